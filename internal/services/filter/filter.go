package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/asakaida/stepscope/internal/entities"
)

// ErrInvalidExpression is wrapped by every compile-time rejection
var ErrInvalidExpression = errors.New("invalid filter expression")

// Filter selects output records with a CEL expression over the variable
// "record". A compiled Filter is safe for concurrent use.
//
// Example: record.type == "Face" && record.surface == "PLANE"
type Filter struct {
	expression string
	program    cel.Program
}

// Variables returns the names available on the record variable
func Variables() []string {
	return []string{
		"type", "id", "surface", "x", "y", "z", "has_centroid",
		"umin", "umax", "vmin", "vmax", "has_bounds",
		"color", "has_color", "r", "g", "b", "attributes",
	}
}

// New compiles expression. Expressions that do not type-check or do not
// produce a boolean are rejected.
func New(expression string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: must return boolean, got: %s", ErrInvalidExpression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

// String returns the source expression
func (f *Filter) String() string {
	return f.expression
}

// Match evaluates the filter against one record
func (f *Filter) Match(r *entities.OutputRecord) (bool, error) {
	result, _, err := f.program.Eval(map[string]any{"record": Fields(r)})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter on %s %d: %w", r.Type, r.ID, err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter did not evaluate to boolean, got: %T", result.Value())
	}
	return matched, nil
}

// Fields returns the CEL view of a record. Absent numbers are 0 with the
// matching has_ flag false.
func Fields(r *entities.OutputRecord) map[string]any {
	fields := map[string]any{
		"type":         string(r.Type),
		"id":           r.ID,
		"surface":      r.SurfaceCurve,
		"x":            value(r.X),
		"y":            value(r.Y),
		"z":            value(r.Z),
		"has_centroid": r.X != nil && r.Y != nil && r.Z != nil,
		"umin":         value(r.UMin),
		"umax":         value(r.UMax),
		"vmin":         value(r.VMin),
		"vmax":         value(r.VMax),
		"has_bounds":   r.UMin != nil && r.UMax != nil,
		"color":        r.Color,
		"attributes":   r.Attributes,
	}

	rgb, ok := parseRGB(r.Color)
	fields["has_color"] = ok
	fields["r"], fields["g"], fields["b"] = rgb[0], rgb[1], rgb[2]
	return fields
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// parseRGB reads the "R G B" rendering of a found color
func parseRGB(s string) ([3]float64, bool) {
	var rgb [3]float64
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return rgb, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return [3]float64{}, false
		}
		rgb[i] = v
	}
	return rgb, true
}
