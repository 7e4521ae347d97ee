// Package agent implements the tool contract, the swappable tool
// registry, and the bounded reasoning/acting loop.
package agent

import (
	"context"
	"fmt"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/model"
)

// Parameter describes one tool parameter for schema validation and for
// the model's function-calling surface.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
	Default     any
}

// Tool is the uniform capability contract. The loop never inspects
// tool internals, only the ToolResult shape.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, args map[string]any) *domain.ToolResult
}

// ValidateArgs checks args against the tool's parameter schema:
// required presence and primitive types. A violation is reported as a
// validation-error ToolResult, never as an execution failure.
func ValidateArgs(t Tool, args map[string]any) *domain.ToolResult {
	for _, p := range t.Parameters() {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return validationError(fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if err := checkType(v, p.Type); err != nil {
			return validationError(fmt.Sprintf("parameter %q: %v", p.Name, err))
		}
	}
	return nil
}

// ValidateAndExecute runs schema validation first and only then the
// tool itself. Defaults are filled in for absent optional parameters.
func ValidateAndExecute(ctx context.Context, t Tool, args map[string]any) *domain.ToolResult {
	if args == nil {
		args = map[string]any{}
	}
	if res := ValidateArgs(t, args); res != nil {
		return res
	}
	for _, p := range t.Parameters() {
		if _, present := args[p.Name]; !present && p.Default != nil {
			args[p.Name] = p.Default
		}
	}
	return t.Execute(ctx, args)
}

func validationError(msg string) *domain.ToolResult {
	return &domain.ToolResult{
		Success:         false,
		Error:           msg,
		ValidationError: true,
	}
}

func checkType(v any, want string) error {
	switch want {
	case "string":
		if _, ok := v.(string); ok {
			return nil
		}
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return nil
		}
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return nil
		case float64:
			if n == float64(int64(n)) {
				return nil
			}
		}
	case "boolean":
		if _, ok := v.(bool); ok {
			return nil
		}
	default:
		return nil
	}
	return fmt.Errorf("expected %s, got %T", want, v)
}

// Spec converts a tool's published surface into the provider schema.
func Spec(t Tool) model.ToolSpec {
	params := t.Parameters()
	specs := make([]model.ParameterSpec, len(params))
	for i, p := range params {
		specs[i] = model.ParameterSpec{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
		}
	}
	return model.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  specs,
	}
}
