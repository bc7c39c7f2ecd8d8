package geometry

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/asakaida/stepscope/internal/entities"
)

// MockCall identifies one scripted oracle call. Position is the 0-based
// iteration position of the element within its kind.
type MockCall struct {
	Kind     entities.ShapeKind
	Position int
	Op       string
}

// MockFailure scripts the behaviour of one call
type MockFailure struct {
	Err   error
	Panic bool
	Delay time.Duration
}

// MockElement is one scripted element
type MockElement struct {
	Labels      []string
	Centroid    entities.Vec3
	Bounds      entities.FaceBounds
	Params      entities.EdgeParams
	Description string
}

// MockOracle is a scripted Oracle for tests. The zero value yields no
// elements; use NewMockOracle and its builder methods.
type MockOracle struct {
	Elements map[entities.ShapeKind][]MockElement
	Failures map[MockCall]MockFailure
	Colors   []entities.ColorAssignment
	ColorErr error

	// OnYield is called before each element is yielded
	OnYield func(kind entities.ShapeKind, position int)

	mu    sync.Mutex
	calls map[string]int
}

// NewMockOracle creates an empty MockOracle
func NewMockOracle() *MockOracle {
	return &MockOracle{
		Elements: make(map[entities.ShapeKind][]MockElement),
		Failures: make(map[MockCall]MockFailure),
		calls:    make(map[string]int),
	}
}

// WithCount adds n generated elements of kind. Element i is labelled
// "<kind>-<i+1>" and has centroid (i, 0, 0).
func (m *MockOracle) WithCount(kind entities.ShapeKind, n int) *MockOracle {
	for i := 0; i < n; i++ {
		pos := len(m.Elements[kind])
		m.Elements[kind] = append(m.Elements[kind], MockElement{
			Labels:      []string{fmt.Sprintf("%s-%d", kind, pos+1)},
			Centroid:    entities.Vec3{X: float64(pos)},
			Bounds:      entities.FaceBounds{UMin: 0, UMax: 1, VMin: 0, VMax: 1},
			Params:      entities.EdgeParams{First: 0, Last: float64(pos + 1)},
			Description: "MOCK_" + kind.String(),
		})
	}
	return m
}

// WithElement adds one scripted element of kind
func (m *MockOracle) WithElement(kind entities.ShapeKind, e MockElement) *MockOracle {
	m.Elements[kind] = append(m.Elements[kind], e)
	return m
}

// WithColor adds a color assignment to the color table
func (m *MockOracle) WithColor(label string, kind entities.ColorKind, c entities.RGB) *MockOracle {
	m.Colors = append(m.Colors, entities.ColorAssignment{Label: label, Kind: kind, Color: c})
	return m
}

// Fail makes a call return err
func (m *MockOracle) Fail(kind entities.ShapeKind, position int, op string, err error) *MockOracle {
	m.Failures[MockCall{Kind: kind, Position: position, Op: op}] = MockFailure{Err: err}
	return m
}

// Panic makes a call panic
func (m *MockOracle) Panic(kind entities.ShapeKind, position int, op string) *MockOracle {
	m.Failures[MockCall{Kind: kind, Position: position, Op: op}] = MockFailure{Panic: true}
	return m
}

// Delay makes a call block for d or until its context ends
func (m *MockOracle) Delay(kind entities.ShapeKind, position int, op string, d time.Duration) *MockOracle {
	m.Failures[MockCall{Kind: kind, Position: position, Op: op}] = MockFailure{Delay: d}
	return m
}

// Calls returns how often op was invoked
func (m *MockOracle) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// script applies the scripted failure of a call, if any
func (m *MockOracle) script(ctx context.Context, kind entities.ShapeKind, position int, op string) error {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()

	f, ok := m.Failures[MockCall{Kind: kind, Position: position, Op: op}]
	if !ok {
		return nil
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Panic {
		panic(fmt.Sprintf("scripted panic in %s", op))
	}
	return f.Err
}

// element returns the scripted element behind ref
func (m *MockOracle) element(ref ElementRef) (MockElement, int, error) {
	position := int(ref.Handle)
	elements := m.Elements[ref.Kind]
	if position < 0 || position >= len(elements) {
		return MockElement{}, position, fmt.Errorf("unknown %s handle %d", ref.Kind, ref.Handle)
	}
	return elements[position], position, nil
}

// Iterate yields the scripted elements of kind in order
func (m *MockOracle) Iterate(ctx context.Context, kind entities.ShapeKind) iter.Seq2[ElementRef, error] {
	return func(yield func(ElementRef, error) bool) {
		for position, e := range m.Elements[kind] {
			if ctx.Err() != nil {
				return
			}
			if m.OnYield != nil {
				m.OnYield(kind, position)
			}
			if err := m.script(ctx, kind, position, OpIterate); err != nil {
				if !yield(ElementRef{}, err) {
					return
				}
				continue
			}
			ref := ElementRef{Kind: kind, Handle: uint64(position), Labels: e.Labels}
			if !yield(ref, nil) {
				return
			}
		}
	}
}

// Centroid returns the scripted centroid
func (m *MockOracle) Centroid(ctx context.Context, ref ElementRef) (entities.Vec3, error) {
	e, position, err := m.element(ref)
	if err != nil {
		return entities.Vec3{}, err
	}
	if err := m.script(ctx, ref.Kind, position, OpCentroid); err != nil {
		return entities.Vec3{}, err
	}
	return e.Centroid, nil
}

// FaceBounds returns the scripted bounds
func (m *MockOracle) FaceBounds(ctx context.Context, ref ElementRef) (entities.FaceBounds, error) {
	e, position, err := m.element(ref)
	if err != nil {
		return entities.FaceBounds{}, err
	}
	if err := m.script(ctx, ref.Kind, position, OpFaceBounds); err != nil {
		return entities.FaceBounds{}, err
	}
	return e.Bounds, nil
}

// EdgeParams returns the scripted parameter range
func (m *MockOracle) EdgeParams(ctx context.Context, ref ElementRef) (entities.EdgeParams, error) {
	e, position, err := m.element(ref)
	if err != nil {
		return entities.EdgeParams{}, err
	}
	if err := m.script(ctx, ref.Kind, position, OpEdgeParams); err != nil {
		return entities.EdgeParams{}, err
	}
	return e.Params, nil
}

// Describe returns the scripted description
func (m *MockOracle) Describe(ctx context.Context, ref ElementRef) (string, error) {
	e, position, err := m.element(ref)
	if err != nil {
		return "", err
	}
	if err := m.script(ctx, ref.Kind, position, OpDescribe); err != nil {
		return "", err
	}
	return e.Description, nil
}

// ColorTable returns the scripted color table
func (m *MockOracle) ColorTable(ctx context.Context) ([]entities.ColorAssignment, error) {
	m.mu.Lock()
	m.calls[OpColorTable]++
	m.mu.Unlock()

	if m.ColorErr != nil {
		return nil, m.ColorErr
	}
	return m.Colors, nil
}
