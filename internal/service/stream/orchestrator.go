package stream

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
)

var errAwaited = errors.New("title already awaited")

// Execute produces the primary content of a response into w.
type Execute func(ctx context.Context, w *Writer) error

// Hooks are the callbacks of one orchestrated response.
type Hooks struct {
	// OnTitle persists a generated title.
	OnTitle func(ctx context.Context, title string) error
	// OnFinish receives the finished messages after every write completed.
	OnFinish func(ctx context.Context, messages []chat.Message) error
	// OnError is told about a failed response. The client only ever sees chaterr.StreamApology.
	OnError func(ctx context.Context, err error)
}

// Orchestrator drives one response stream from start to finish.
type Orchestrator struct {
	writer *Writer
	title  *TitleTask
	hooks  Hooks
	logger *zap.Logger
}

// NewOrchestrator binds a writer with an optional title task.
func NewOrchestrator(w *Writer, title *TitleTask, hooks Hooks) *Orchestrator {
	return &Orchestrator{
		writer: w,
		title:  title,
		hooks:  hooks,
		logger: logging.Named("stream"),
	}
}

// Run writes start, executes the primary content, awaits the title once, then finishes.
// Exactly one of OnFinish and OnError fires. Hooks run on a context that survives client
// disconnects.
func (o *Orchestrator) Run(ctx context.Context, execute Execute) error {
	hookCtx := context.WithoutCancel(ctx)

	err := o.writer.Start()
	if err == nil {
		err = execute(ctx, o.writer)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrNoListeners), errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled):
		// nobody is reading; keep what was produced
		o.title.Discard()
		o.logger.Info("stream abandoned by client", zap.String("message_id", o.writer.MessageID()))
		_ = o.writer.Finish()
		return o.finish(hookCtx)
	default:
		o.title.Discard()
		o.fail(hookCtx, err)
		return err
	}

	if title, titleErr := o.title.Await(ctx); titleErr != nil {
		o.logger.Warn("title generation failed", zap.Error(titleErr))
	} else if title = strings.TrimSpace(title); title != "" {
		if err := o.writer.Title(title); err != nil && !errors.Is(err, ErrNoListeners) {
			o.logger.Warn("emit title", zap.Error(err))
		}
		if o.hooks.OnTitle != nil {
			if err := o.hooks.OnTitle(hookCtx, title); err != nil {
				o.logger.Warn("persist title", zap.Error(err))
			}
		}
	}

	if err := o.writer.Finish(); err != nil {
		o.fail(hookCtx, err)
		return err
	}
	return o.finish(hookCtx)
}

func (o *Orchestrator) finish(ctx context.Context) error {
	if o.hooks.OnFinish == nil {
		return nil
	}
	msg := o.writer.Message()
	if err := o.hooks.OnFinish(ctx, []chat.Message{msg}); err != nil {
		o.logger.Error("persist finished messages", zap.Error(err), zap.String("message_id", msg.ID))
		return err
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.logger.Error("stream failed", zap.Error(err), zap.String("message_id", o.writer.MessageID()))
	_ = o.writer.Error(chaterr.StreamApology)
	_ = o.writer.Finish()
	if o.hooks.OnError != nil {
		o.hooks.OnError(ctx, err)
	}
}
