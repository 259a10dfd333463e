package modes

import (
	"fmt"
	"strings"

	"lapnote/internal/domain"
)

// Registry holds the built-in modes plus the custom mode.
type Registry struct {
	order []domain.Mode
	byID  map[string]domain.Mode
}

// NewRegistry builds the registry. The custom mode reads its instructions
// from source each time they are needed.
func NewRegistry(source domain.InstructionSource) *Registry {
	r := &Registry{byID: map[string]domain.Mode{}}
	for _, mode := range builtins() {
		r.add(mode)
	}
	r.add(domain.NewCustomMode(CustomID, "Custom", source))
	return r
}

func (r *Registry) add(mode domain.Mode) {
	r.order = append(r.order, mode)
	r.byID[mode.ID()] = mode
}

func (r *Registry) Lookup(id string) (domain.Mode, error) {
	mode, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", id)
	}
	return mode, nil
}

func (r *Registry) Modes() []domain.Mode {
	return append([]domain.Mode(nil), r.order...)
}
