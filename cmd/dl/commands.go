package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"draftline/internal/app"
	"draftline/internal/domain"
	"draftline/internal/engine"
	"draftline/internal/jobs"
	"draftline/internal/repo"
	"draftline/internal/server"
)

func explorationCmd() *cobra.Command {
	exp := &cobra.Command{Use: "exploration", Aliases: []string{"exp"}, Short: "Manage explorations"}
	exp.AddCommand(explorationCreateCmd())
	exp.AddCommand(explorationListCmd())
	exp.AddCommand(explorationShowCmd())
	exp.AddCommand(explorationCommitCmd())
	exp.AddCommand(explorationMigrateCmd())
	exp.AddCommand(explorationLogCmd())
	return exp
}

func explorationCreateCmd() *cobra.Command {
	var id, title string
	var schema int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an exploration at version 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Engine.CreateExploration(ctx, id, title, schema, actorID())
				if err != nil {
					return err
				}
				return render(e, explorationHeader, explorationRows(e))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "exploration id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().IntVar(&schema, "schema", 0, "states schema version (latest when 0)")
	return cmd
}

func explorationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List explorations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListExplorations(ctx)
				if err != nil {
					return err
				}
				return render(items, explorationHeader, explorationRows(items...))
			})
		},
	}
}

func explorationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an exploration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Engine.GetExploration(ctx, args[0])
				if err != nil {
					return err
				}
				return render(e, explorationHeader, explorationRows(e))
			})
		},
	}
}

func explorationCommitCmd() *cobra.Command {
	var changesPath, message string
	var expected int
	cmd := &cobra.Command{
		Use:   "commit <id>",
		Short: "Commit a change list read from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := readChanges(changesPath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if expected == 0 {
					current, err := a.Engine.GetExploration(ctx, args[0])
					if err != nil {
						return err
					}
					expected = current.Version
				}
				e, err := a.Engine.CommitChanges(ctx, engine.CommitOptions{
					ExplorationID:   args[0],
					ActorID:         actorID(),
					ExpectedVersion: expected,
					Changes:         changes,
					Message:         message,
				})
				if err != nil {
					return err
				}
				return render(e, explorationHeader, explorationRows(e))
			})
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "JSON change list file (- for stdin)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "version the changes were written against (current when 0)")
	return cmd
}

func explorationMigrateCmd() *cobra.Command {
	var to int
	cmd := &cobra.Command{
		Use:   "migrate <id>",
		Short: "Migrate the states schema, one commit per step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Engine.MigrateStatesSchema(ctx, args[0], to, actorID())
				if err != nil {
					return err
				}
				return render(e, explorationHeader, explorationRows(e))
			})
		},
	}
	cmd.Flags().IntVar(&to, "to", 0, "target states schema version (latest when 0)")
	return cmd
}

func explorationLogCmd() *cobra.Command {
	var after, limit int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the commit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				commits, err := a.Engine.ListCommits(ctx, args[0], after, limit)
				if err != nil {
					return err
				}
				return render(commits, table.Row{"Version", "Type", "Author", "Commands", "Message"}, func(tw table.Writer) {
					for _, c := range commits {
						tw.AppendRow(table.Row{c.Version, c.CommitType, c.AuthorID, cmdSummary(c.Cmds), c.Message})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&after, "after", 0, "only versions after this one")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum commits (all when 0)")
	return cmd
}

func draftCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "draft",
		Short: "Manage drafts of the current actor",
		Long:  "Drafts are keyed by --actor-id. Loading a stale draft upgrades or discards it.",
	}
	d.AddCommand(draftSaveCmd())
	d.AddCommand(draftShowCmd())
	d.AddCommand(draftUpgradeCmd())
	d.AddCommand(draftDiscardCmd())
	return d
}

func draftSaveCmd() *cobra.Command {
	var changesPath string
	var version int
	cmd := &cobra.Command{
		Use:   "save <exploration-id>",
		Short: "Save a draft change list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := readChanges(changesPath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if version == 0 {
					current, err := a.Engine.GetExploration(ctx, args[0])
					if err != nil {
						return err
					}
					version = current.Version
				}
				d, err := a.Engine.SaveDraft(ctx, actorID(), args[0], changes, version)
				if err != nil {
					return err
				}
				return printDraft(d)
			})
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "JSON change list file (- for stdin)")
	cmd.Flags().IntVar(&version, "version", 0, "exploration version the draft was written against (current when 0)")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <exploration-id>",
		Short: "Load the draft, upgrading it when stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loaded, err := a.Engine.LoadDraft(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(loaded)
				}
				if loaded.Discarded() {
					fmt.Printf("Draft discarded: %s at version %d\n", loaded.Upgrade.Reason, loaded.Upgrade.Version)
					return nil
				}
				fmt.Printf("Draft %s\n", loaded.Upgrade.Status)
				return printDraft(loaded.Draft)
			})
		},
	}
}

func draftUpgradeCmd() *cobra.Command {
	var changesPath string
	var from, to int
	cmd := &cobra.Command{
		Use:   "upgrade <exploration-id>",
		Short: "Upgrade a change list from a file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := readChanges(changesPath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.UpgradeDraft(ctx, changes, from, to, args[0])
				if err != nil {
					return err
				}
				if !viper.GetBool("json") && !res.Migratable() {
					fmt.Fprintf(os.Stderr, "not migratable: %s at version %d\n", res.Reason, res.Version)
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "JSON change list file (- for stdin)")
	cmd.Flags().IntVar(&from, "from", 0, "version the change list was written against")
	cmd.Flags().IntVar(&to, "to", 0, "target version (current when 0)")
	return cmd
}

func draftDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <exploration-id>",
		Short: "Discard the draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DiscardDraft(ctx, actorID(), args[0]); err != nil {
					return err
				}
				fmt.Println("Draft discarded")
				return nil
			})
		},
	}
}

func printDraft(d domain.UserDraft) error {
	return render(d, table.Row{"#", "Cmd", "State", "Property"}, func(tw table.Writer) {
		tw.SetTitle(fmt.Sprintf("%s on %s at version %d", d.UserID, d.ExplorationID, d.DraftVersion))
		for i, c := range d.Changes {
			tw.AppendRow(table.Row{i + 1, c.Cmd, c.StateName, c.PropertyName})
		}
	})
}

func suggestionCmd() *cobra.Command {
	s := &cobra.Command{Use: "suggestion", Short: "Manage suggestions"}
	s.AddCommand(suggestionCreateCmd())
	s.AddCommand(suggestionListCmd())
	return s
}

func suggestionCreateCmd() *cobra.Command {
	var changePath string
	cmd := &cobra.Command{
		Use:   "create <exploration-id>",
		Short: "Suggest one change read from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var change domain.ExplorationChange
			if err := readJSON(changePath, &change); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CreateSuggestion(ctx, args[0], actorID(), change)
				if err != nil {
					return err
				}
				return printSuggestions([]domain.Suggestion{s})
			})
		},
	}
	cmd.Flags().StringVar(&changePath, "change", "", "JSON change file (- for stdin)")
	return cmd
}

func suggestionListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list [exploration-id]",
		Short: "List suggestions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expID := ""
			if len(args) == 1 {
				expID = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListSuggestions(ctx, expID, status)
				if err != nil {
					return err
				}
				return printSuggestions(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (review, accepted, rejected)")
	return cmd
}

func printSuggestions(items []domain.Suggestion) error {
	return render(items, table.Row{"ID", "Exploration", "Target", "Status", "Author", "Cmd", "State"}, func(tw table.Writer) {
		for _, s := range items {
			tw.AppendRow(table.Row{s.ID, s.ExplorationID, s.TargetVersion, s.Status, s.AuthorID, s.Change.Cmd, s.Change.StateName})
		}
	})
}

func convertersCmd() *cobra.Command {
	c := &cobra.Command{Use: "converters", Short: "Draft converters"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered schema steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				steps := a.Engine.Upgrader.Converters.Steps()
				return render(steps, table.Row{"From", "To", "Name"}, func(tw table.Writer) {
					for _, s := range steps {
						tw.AppendRow(table.Row{s.From, s.To, s.String()})
					}
				})
			})
		},
	})
	return c
}

func jobsCmd() *cobra.Command {
	j := &cobra.Command{Use: "jobs", Short: "Batch jobs over stored drafts and suggestions"}
	var expID string
	upgrade := &cobra.Command{
		Use:   "upgrade-drafts",
		Short: "Upgrade or discard every stale draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r jobs.Runner) error {
				report, err := r.UpgradeDrafts(ctx, expID)
				if err != nil {
					return err
				}
				return render(report, table.Row{"Run", "Total", "Current", "Upgraded", "Discarded", "Skipped", "Errors"}, func(tw table.Writer) {
					tw.AppendRow(table.Row{report.RunID, report.Total, report.Current, report.Upgraded, report.Discarded, report.Skipped, len(report.Errors)})
				})
			})
		},
	}
	upgrade.Flags().StringVar(&expID, "exploration", "", "limit to one exploration")
	j.AddCommand(upgrade)

	j.AddCommand(&cobra.Command{
		Use:   "audit-math",
		Short: "List suggestions containing math components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r jobs.Runner) error {
				report, err := r.AuditSuggestionMath(ctx)
				if err != nil {
					return err
				}
				return render(report, table.Row{"Suggestion"}, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("run %s: %d of %d suggestions", report.RunID, len(report.SuggestionIDs), report.Total))
					for _, id := range report.SuggestionIDs {
						tw.AppendRow(table.Row{id})
					}
				})
			})
		},
	})

	j.AddCommand(&cobra.Command{
		Use:   "validate-svgs",
		Short: "Report math components without an SVG file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r jobs.Runner) error {
				report, err := r.ValidateSuggestionSVGs(ctx)
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(report.Missing))
				for id := range report.Missing {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				return render(report, table.Row{"Suggestion", "Missing SVG for"}, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("run %s: %d math tags", report.RunID, report.Tags))
					for _, id := range ids {
						tw.AppendRow(table.Row{id, strings.Join(report.Missing[id], " | ")})
					}
					for _, inv := range report.Invalid {
						tw.AppendRow(table.Row{inv.ID, "invalid: " + inv.Error})
					}
				})
			})
		},
	})

	j.AddCommand(&cobra.Command{
		Use:   "migrate-math",
		Short: "Rewrite legacy math components in suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r jobs.Runner) error {
				report, err := r.MigrateSuggestionMath(ctx, actorID())
				if err != nil {
					return err
				}
				return render(report, table.Row{"Run", "Migrated", "Unchanged", "Invalid before", "Invalid after", "Errors"}, func(tw table.Writer) {
					tw.AppendRow(table.Row{report.RunID, report.Migrated, report.Unchanged,
						len(report.InvalidBefore), len(report.InvalidAfter), len(report.Errors)})
				})
			})
		},
	})
	return j
}

func withRunner(ctx context.Context, fn func(context.Context, jobs.Runner) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, jobs.Runner{Engine: a.Engine, Workers: a.Config.Jobs.Workers, Log: a.Log})
	})
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = actorID()
			}
			secret, err := newAPIKeySecret()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key := domain.APIKey{ID: uuid.NewString(), ActorID: actor, Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "label")
	k.AddCommand(create)

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				return render(keys, table.Row{"ID", "Actor", "Name", "Created"}, func(tw table.Writer) {
					for _, key := range keys {
						tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, key.CreatedAt})
					}
				})
			})
		},
	}
	list.Flags().StringVar(&filter, "actor", "", "actor filter")
	k.AddCommand(list)

	k.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "dl_" + hex.EncodeToString(buf), nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: commits, migrations, saved, upgraded and discarded drafts.",
	}
	var n int
	var expID, evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, expID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return render(events, table.Row{"ID", "TS", "Type", "Exploration", "Entity", "Actor", "Payload"}, func(tw table.Writer) {
					for _, e := range events {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ExplorationID, e.EntityKind + "/" + e.EntityID, e.ActorID, e.Payload})
					}
				})
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&expID, "exploration", "", "exploration filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacyHeader,
					EnableDevLogin:         devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("DRAFTLINE_JWT_SECRET is required for bearer auth")
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				fmt.Printf("Serving Draftline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				return server.Serve(ctx, addr, server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Log:      a.Log,
				})
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (server.addr from config when empty)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (server.base_path from config when empty)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local use only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials")
	return cmd
}
