package draftupgrade

import (
	"errors"
	"fmt"
	"sort"

	"draftline/internal/domain"
)

var (
	// ErrInvalidInput is returned for requests that can never succeed, such
	// as a draft newer than its exploration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned when a step is registered twice.
	ErrDuplicate = errors.New("duplicate converter")
)

// Step is a single states schema bump.
type Step struct {
	From int `json:"from_version"`
	To   int `json:"to_version"`
}

func (s Step) String() string {
	return fmt.Sprintf("v%d->v%d", s.From, s.To)
}

// Converter rewrites a change list from the shape of Step.From to the shape of
// Step.To.
type Converter func(domain.ChangeList) domain.ChangeList

// NoModification is the converter for schema bumps that do not affect drafts.
func NoModification(changes domain.ChangeList) domain.ChangeList {
	return changes
}

// Registry maps schema steps to converters. It is filled once at start up and
// only read afterwards, so lookups are safe for concurrent use.
type Registry struct {
	converters map[Step]Converter
}

func NewRegistry() *Registry {
	return &Registry{converters: make(map[Step]Converter)}
}

func (r *Registry) Register(step Step, c Converter) error {
	if step.From < 0 || step.To != step.From+1 {
		return fmt.Errorf("%w: step %s is not a single schema bump", ErrInvalidInput, step)
	}
	if c == nil {
		return fmt.Errorf("%w: nil converter for %s", ErrInvalidInput, step)
	}
	if _, ok := r.converters[step]; ok {
		return fmt.Errorf("%w: %s already registered", ErrDuplicate, step)
	}
	r.converters[step] = c
	return nil
}

func (r *Registry) MustRegister(step Step, c Converter) {
	if err := r.Register(step, c); err != nil {
		panic(err)
	}
}

// Lookup returns the converter registered for exactly this step.
func (r *Registry) Lookup(step Step) (Converter, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.converters[step]
	return c, ok
}

// Steps returns all registered steps in ascending order.
func (r *Registry) Steps() []Step {
	if r == nil {
		return nil
	}
	steps := make([]Step, 0, len(r.converters))
	for s := range r.converters {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].From < steps[j].From })
	return steps
}
