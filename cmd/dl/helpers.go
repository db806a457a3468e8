package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"draftline/internal/app"
	"draftline/internal/domain"
)

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogWriter: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON with --json, otherwise as the table built by rows.
func render(v any, header table.Row, rows func(tw table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	rows(tw)
	tw.Render()
	return nil
}

// readJSON decodes a JSON file into v; "-" reads stdin.
func readJSON(path string, v any) error {
	if path == "" {
		return fmt.Errorf("a JSON file is required")
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func readChanges(path string) (domain.ChangeList, error) {
	var changes domain.ChangeList
	if err := readJSON(path, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func explorationRows(items ...domain.Exploration) func(tw table.Writer) {
	return func(tw table.Writer) {
		for _, e := range items {
			tw.AppendRow(table.Row{e.ID, e.Title, e.Version, e.StatesSchemaVersion, e.UpdatedAt})
		}
	}
}

var explorationHeader = table.Row{"ID", "Title", "Version", "Schema", "Updated"}

func cmdSummary(cmds []domain.CommitCmd) string {
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name())
	}
	return strings.Join(names, ", ")
}
