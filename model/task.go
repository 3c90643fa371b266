package model

import (
	"context"
	"reflect"
	"sync"
)

// Task is the result of an asynchronous operation. Operations returning a
// *Task[T] are catalogued with the logical return type T and with any
// trailing "Async" removed from their name.
type Task[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewTask starts fn in a new goroutine and returns its task.
func NewTask[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		v, err := fn(ctx)
		t.complete(v, err)
	}()
	return t
}

// CompletedTask returns a task that has already finished with v.
func CompletedTask[T any](v T) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	t.complete(v, nil)
	return t
}

// FailedTask returns a task that has already failed with err.
func FailedTask[T any](err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	var zero T
	t.complete(zero, err)
	return t
}

func (t *Task[T]) complete(v T, err error) {
	t.once.Do(func() {
		t.value = v
		t.err = err
		close(t.done)
	})
}

// Await blocks until the task completes or ctx is done.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitAny is Await with an untyped result.
func (t *Task[T]) AwaitAny(ctx context.Context) (any, error) {
	return t.Await(ctx)
}

// ResultType returns the reflected type of T.
func (t *Task[T]) ResultType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Awaitable is the untyped view of a *Task[T].
type Awaitable interface {
	AwaitAny(ctx context.Context) (any, error)
	ResultType() reflect.Type
}

var awaitableType = reflect.TypeFor[Awaitable]()

// TaskResultType reports whether t is a task type and, if so, the type of
// the value it produces.
func TaskResultType(t reflect.Type) (reflect.Type, bool) {
	if t == nil || !t.Implements(awaitableType) || t.Kind() != reflect.Pointer {
		return nil, false
	}
	return reflect.Zero(t).Interface().(Awaitable).ResultType(), true
}
