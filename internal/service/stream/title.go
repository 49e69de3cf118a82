package stream

import (
	"context"
	"sync"
)

// TitleFunc produces a chat title.
type TitleFunc func(ctx context.Context) (string, error)

// TitleTask is a title generation started alongside the primary stream and awaited
// once just before finish.
type TitleTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	title string
	err   error

	awaitOnce sync.Once
}

// StartTitle runs fn in its own goroutine. A nil fn yields a nil task.
func StartTitle(ctx context.Context, fn TitleFunc) *TitleTask {
	if fn == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &TitleTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.title, t.err = fn(ctx)
	}()
	return t
}

// Await blocks until the title is ready or ctx ends. Only the first call waits;
// later calls report errAwaited.
func (t *TitleTask) Await(ctx context.Context) (string, error) {
	if t == nil {
		return "", nil
	}
	awaited := false
	t.awaitOnce.Do(func() { awaited = true })
	if !awaited {
		return "", errAwaited
	}
	select {
	case <-t.done:
		t.cancel()
		return t.title, t.err
	case <-ctx.Done():
		t.Discard()
		return "", ctx.Err()
	}
}

// Discard cancels the task and waits for its goroutine to exit.
func (t *TitleTask) Discard() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}
