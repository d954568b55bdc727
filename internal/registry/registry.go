// Package registry maps repeater kinds to their registered payload formats.
// Registration happens once at process start; the registry is read-only
// afterwards, so concurrent reads from the scheduler need no locking beyond
// the internal mutex guarding registration itself.
package registry

import (
	"fmt"
	"sync"

	"github.com/hqmotech/forwarder/internal/generator"
	"github.com/hqmotech/forwarder/internal/model"
)

// DuplicateFormatError is raised at registration time for a format name
// already taken, or a second default, for a kind. A configuration error, not
// a runtime one.
type DuplicateFormatError struct {
	Kind   model.RepeaterKind
	Format string
}

func (e *DuplicateFormatError) Error() string {
	return fmt.Sprintf("duplicate payload format %q for repeater kind %q", e.Format, e.Kind)
}

// UnknownFormatError is raised when resolving a format that was never
// registered for the kind, or a kind with no default.
type UnknownFormatError struct {
	Kind   model.RepeaterKind
	Format string
}

func (e *UnknownFormatError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("no default payload format for repeater kind %q", e.Kind)
	}
	return fmt.Sprintf("unknown payload format %q for repeater kind %q", e.Format, e.Kind)
}

// Format is one registered payload format for a repeater kind.
type Format struct {
	Name      string
	Label     string
	Generator generator.PayloadGenerator
	IsDefault bool
}

// Registry holds the payload formats registered per repeater kind.
type Registry struct {
	mu    sync.RWMutex
	kinds map[model.RepeaterKind]map[string]Format
}

func New() *Registry {
	return &Registry{kinds: make(map[model.RepeaterKind]map[string]Format)}
}

// Register adds a payload format for a kind. At most one format per kind may
// be the default.
func (r *Registry) Register(kind model.RepeaterKind, name, label string, gen generator.PayloadGenerator, isDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	formats, ok := r.kinds[kind]
	if !ok {
		formats = make(map[string]Format)
		r.kinds[kind] = formats
	}

	if _, exists := formats[name]; exists {
		return &DuplicateFormatError{Kind: kind, Format: name}
	}
	if isDefault {
		for _, f := range formats {
			if f.IsDefault {
				return &DuplicateFormatError{Kind: kind, Format: name}
			}
		}
	}

	formats[name] = Format{Name: name, Label: label, Generator: gen, IsDefault: isDefault}
	return nil
}

// MustRegister is Register for startup wiring, where a registration error is
// a programming error.
func (r *Registry) MustRegister(kind model.RepeaterKind, name, label string, gen generator.PayloadGenerator, isDefault bool) {
	if err := r.Register(kind, name, label, gen, isDefault); err != nil {
		panic(err)
	}
}

// Resolve returns the generator for the named format, or the kind's default
// when name is empty.
func (r *Registry) Resolve(kind model.RepeaterKind, name string) (generator.PayloadGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := r.kinds[kind]
	if name == "" {
		for _, f := range formats {
			if f.IsDefault {
				return f.Generator, nil
			}
		}
		return nil, &UnknownFormatError{Kind: kind}
	}
	f, ok := formats[name]
	if !ok {
		return nil, &UnknownFormatError{Kind: kind, Format: name}
	}
	return f.Generator, nil
}

// Formats lists the formats registered for a kind, for the operator UI.
func (r *Registry) Formats(kind model.RepeaterKind) []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Format, 0, len(r.kinds[kind]))
	for _, f := range r.kinds[kind] {
		out = append(out, f)
	}
	return out
}
