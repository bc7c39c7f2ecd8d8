package geometry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/stepscope/internal/entities"
)

// errPanic wraps a panic raised inside an oracle call
var errPanic = errors.New("oracle panicked")

// invoke runs one oracle call in isolation: panics become errors and, with a
// positive timeout, a call that does not return in time is abandoned.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return protect(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := protect(ctx, fn)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("no result within %s: %w", timeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// protect calls fn and converts a panic into an error
func protect[T any](ctx context.Context, fn func(context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return fn(ctx)
}

// ReadColorTable reads the oracle's color table under the same isolation as
// element calls. A failure is returned as a kind-level GeometryError.
func ReadColorTable(ctx context.Context, oracle Oracle, timeout time.Duration) ([]entities.ColorAssignment, *entities.GeometryError) {
	table, err := invoke(ctx, timeout, oracle.ColorTable)
	if err != nil {
		return nil, &entities.GeometryError{
			Kind:   entities.ShapeUnknown,
			Index:  -1,
			Op:     OpColorTable,
			Reason: err.Error(),
			Err:    err,
		}
	}
	return table, nil
}
