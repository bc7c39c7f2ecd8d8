package resolver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asakaida/stepscope/internal/entities"
)

// MaxDepth bounds the expansion depth of a walk
const MaxDepth = 512

// WalkAction tells Walk how to proceed after a visit
type WalkAction int

const (
	// Continue expands the references of the visited entity
	Continue WalkAction = iota
	// SkipChildren does not expand the visited entity
	SkipChildren
	// Stop ends the walk
	Stop
)

// VisitFunc is called once per reachable entity. path holds the ids from the
// root to the parent of e.
type VisitFunc func(e *entities.Entity, path []uint64) WalkAction

type errorKey struct {
	kind   entities.ReferenceErrorKind
	from   uint64
	target uint64
}

// Resolver follows references between entities of a read-only table.
// Resolution is lazy; dangling and cyclic references are recorded once and
// never abort the caller. A Resolver is safe for concurrent use.
type Resolver struct {
	table *entities.EntityTable

	mu     sync.Mutex
	errors []*entities.ReferenceError
	seen   map[errorKey]bool
}

// New creates a Resolver over table
func New(table *entities.EntityTable) *Resolver {
	return &Resolver{
		table: table,
		seen:  make(map[errorKey]bool),
	}
}

// Table returns the underlying entity table
func (r *Resolver) Table() *entities.EntityTable {
	return r.table
}

// record stores err unless an identical error was stored before
func (r *Resolver) record(err *entities.ReferenceError) {
	key := errorKey{kind: err.Kind, from: err.From, target: err.Target}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.errors = append(r.errors, err)
}

// ResolveID returns the entity with the given id. A missing id is recorded
// as a DanglingReference from the referencing entity and returned.
func (r *Resolver) ResolveID(from, id uint64) (*entities.Entity, error) {
	if e, ok := r.table.Get(id); ok {
		return e, nil
	}
	err := &entities.ReferenceError{Kind: entities.DanglingReference, From: from, Target: id}
	r.record(err)
	return nil, err
}

// Resolve follows a Reference attribute of entity from
func (r *Resolver) Resolve(from uint64, attr entities.AttributeValue) (*entities.Entity, error) {
	if !attr.IsReference() {
		return nil, fmt.Errorf("attribute of #%d is %s, not a reference", from, attr.Kind)
	}
	return r.ResolveID(from, attr.Ref)
}

// ResolveAll resolves every reference nested in attr, in order. Dangling
// references are skipped and reported in the joined error.
func (r *Resolver) ResolveAll(from uint64, attr entities.AttributeValue) ([]*entities.Entity, error) {
	refs := attr.References()
	result := make([]*entities.Entity, 0, len(refs))
	var errs []error
	for _, id := range refs {
		e, err := r.ResolveID(from, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result = append(result, e)
	}
	return result, errors.Join(errs...)
}

// Walk expands the reference graph depth first from root. Each entity is
// visited at most once per walk. A reference back onto the active path is
// recorded as a CyclicReference and not followed; dangling references are
// recorded and skipped.
func (r *Resolver) Walk(root uint64, visit VisitFunc) error {
	e, ok := r.table.Get(root)
	if !ok {
		return &entities.ReferenceError{Kind: entities.DanglingReference, Target: root}
	}

	w := &walker{
		resolver: r,
		visit:    visit,
		onPath:   make(map[uint64]bool),
		visited:  make(map[uint64]bool),
	}
	_, err := w.walk(e)
	return err
}

type walker struct {
	resolver *Resolver
	visit    VisitFunc
	path     []uint64
	onPath   map[uint64]bool
	visited  map[uint64]bool
}

// walk returns false when the walk must stop
func (w *walker) walk(e *entities.Entity) (bool, error) {
	if len(w.path) >= MaxDepth {
		return false, fmt.Errorf("maximum reference depth %d exceeded at #%d", MaxDepth, e.ID)
	}

	w.visited[e.ID] = true
	switch w.visit(e, w.path) {
	case Stop:
		return false, nil
	case SkipChildren:
		return true, nil
	}

	w.path = append(w.path, e.ID)
	w.onPath[e.ID] = true
	defer func() {
		w.path = w.path[:len(w.path)-1]
		delete(w.onPath, e.ID)
	}()

	for _, id := range e.References() {
		if w.onPath[id] {
			path := make([]uint64, len(w.path))
			copy(path, w.path)
			w.resolver.record(&entities.ReferenceError{
				Kind:   entities.CyclicReference,
				From:   e.ID,
				Target: id,
				Path:   path,
			})
			continue
		}
		if w.visited[id] {
			continue
		}
		child, err := w.resolver.ResolveID(e.ID, id)
		if err != nil {
			continue
		}
		more, err := w.walk(child)
		if err != nil || !more {
			return false, err
		}
	}
	return true, nil
}

// Audit reports every dangling reference of the table in one pass without
// resolving anything. The returned slice holds all dangling references,
// including ones recorded earlier.
func (r *Resolver) Audit() []*entities.ReferenceError {
	var dangling []*entities.ReferenceError
	for _, e := range r.table.Entities() {
		reported := make(map[uint64]bool)
		for _, id := range e.References() {
			if _, ok := r.table.Get(id); ok || reported[id] {
				continue
			}
			reported[id] = true
			err := &entities.ReferenceError{Kind: entities.DanglingReference, From: e.ID, Target: id}
			r.record(err)
			dangling = append(dangling, err)
		}
	}
	return dangling
}

// Errors returns a snapshot of the recorded errors in recording order
func (r *Resolver) Errors() []*entities.ReferenceError {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*entities.ReferenceError, len(r.errors))
	copy(result, r.errors)
	return result
}
