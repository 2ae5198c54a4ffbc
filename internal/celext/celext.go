// Package celext provides CEL-compiled derived-field extractors.
// A compiled expression is registered under a field path so rule
// conditions can address computed values (ratios, flags) the same way
// they address raw input fields.
package celext

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fieldpath"
)

// Registry compiles CEL expressions and exposes them as fieldpath
// extractors.
type Registry struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// New creates a CEL environment with the input record bound as "data".
func New() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Registry{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression without registering it.
func (r *Registry) Compile(expression string) error {
	_, err := r.compile(expression)
	return err
}

// Register compiles an expression and installs it in the field registry
// under the given path. Evaluation errors at extraction time yield null.
func (r *Registry) Register(fields *fieldpath.Registry, path, expression string) error {
	program, err := r.compile(expression)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.programs[path] = program
	r.mu.Unlock()

	fields.Register(path, func(data domain.Value) domain.Value {
		activation := map[string]any{
			"data": toActivation(data),
		}
		out, _, err := program.Eval(activation)
		if err != nil {
			return domain.Null()
		}
		return fromRef(out)
	})

	return nil
}

// ProgramCount returns the number of registered programs.
func (r *Registry) ProgramCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}

func (r *Registry) compile(expression string) (cel.Program, error) {
	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// toActivation converts the record into the map shape CEL expects.
func toActivation(data domain.Value) map[string]any {
	fields, ok := data.ToAny().(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return fields
}

// fromRef converts a CEL result into a Value.
func fromRef(val ref.Val) domain.Value {
	switch v := val.(type) {
	case types.Bool:
		return domain.Bool(bool(v))
	case types.Double:
		return domain.Number(float64(v))
	case types.Int:
		return domain.Number(float64(v))
	case types.Uint:
		return domain.Number(float64(v))
	case types.String:
		return domain.String(string(v))
	case types.Null:
		return domain.Null()
	default:
		return domain.FromAny(val.Value())
	}
}
