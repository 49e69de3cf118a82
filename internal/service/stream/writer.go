package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

var (
	// ErrClientGone is returned by a sink whose reader disconnected.
	ErrClientGone = errors.New("client disconnected")
	// ErrNoListeners stops producers once every sink has failed.
	ErrNoListeners = errors.New("no stream listeners left")
	// ErrClosed is returned when writing after Finish.
	ErrClosed = errors.New("stream already finished")
)

// Writer is the single ordered producer of one response stream. It mirrors every
// frame into the sinks and accumulates the parts of the response message.
type Writer struct {
	mu      sync.Mutex
	sinks   []Sink
	failed  []bool
	closed  bool
	message chat.Message
	logger  *zap.Logger
}

// NewWriter creates a writer. base is the assistant message being produced; an empty id
// starts a fresh message, an existing message is continued with its parts kept.
func NewWriter(base chat.Message, sinks ...Sink) *Writer {
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	base.Role = chat.RoleAssistant
	base.Parts = append([]chat.Part(nil), base.Parts...)
	return &Writer{
		sinks:   sinks,
		failed:  make([]bool, len(sinks)),
		message: base,
		logger:  logging.Named("stream"),
	}
}

// MessageID is the id of the response message.
func (w *Writer) MessageID() string {
	return w.message.ID
}

// Message returns a copy of the response message built so far.
func (w *Writer) Message() chat.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := w.message
	msg.Parts = append([]chat.Part(nil), w.message.Parts...)
	return msg
}

// Emit writes one frame to every live sink. It fails only when no sink is left.
func (w *Writer) Emit(frame Frame) error {
	encoded, err := utils.EncodeSSEChunk(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(encoded)
}

func (w *Writer) writeLocked(encoded []byte) error {
	if w.closed {
		return ErrClosed
	}
	alive := 0
	for i, sink := range w.sinks {
		if w.failed[i] {
			continue
		}
		if err := sink.WriteFrame(encoded); err != nil {
			w.failed[i] = true
			if !errors.Is(err, ErrClientGone) {
				w.logger.Warn("stream sink failed", zap.Error(err))
			}
			continue
		}
		alive++
	}
	if alive == 0 && len(w.sinks) > 0 {
		return ErrNoListeners
	}
	return nil
}

// Start announces the response message.
func (w *Writer) Start() error {
	return w.Emit(Frame{Type: FrameStart, MessageID: w.message.ID})
}

// WriteText emits a complete text block: text-start, one text-delta when non-empty, text-end.
func (w *Writer) WriteText(text string) error {
	id := uuid.NewString()
	if err := w.Emit(Frame{Type: FrameTextStart, ID: id}); err != nil {
		return err
	}
	if text != "" {
		if err := w.Emit(Frame{Type: FrameTextDelta, ID: id, Delta: text}); err != nil {
			return err
		}
	}
	if err := w.Emit(Frame{Type: FrameTextEnd, ID: id}); err != nil {
		return err
	}
	w.appendPart(chat.Part{Type: chat.PartText, Text: text})
	return nil
}

// Merge forwards a model stream unchanged, reasoning included when sendReasoning is set,
// and returns the concatenated message.
func (w *Writer) Merge(ctx context.Context, reader *schema.StreamReader[*schema.Message], sendReasoning bool) (*schema.Message, error) {
	defer reader.Close()

	var (
		chunks              []*schema.Message
		textID, reasoningID string
		text, reasoning     []byte
	)
	closeReasoning := func() error {
		if reasoningID == "" {
			return nil
		}
		id := reasoningID
		reasoningID = ""
		w.appendPart(chat.Part{Type: chat.PartReasoning, Text: string(reasoning)})
		reasoning = reasoning[:0]
		return w.Emit(Frame{Type: FrameReasoningEnd, ID: id})
	}
	closeText := func() error {
		if textID == "" {
			return nil
		}
		id := textID
		textID = ""
		w.appendPart(chat.Part{Type: chat.PartText, Text: string(text)})
		text = text[:0]
		return w.Emit(Frame{Type: FrameTextEnd, ID: id})
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)

		if sendReasoning && chunk.ReasoningContent != "" {
			if reasoningID == "" {
				reasoningID = uuid.NewString()
				if err := w.Emit(Frame{Type: FrameReasoningStart, ID: reasoningID}); err != nil {
					return nil, err
				}
			}
			reasoning = append(reasoning, chunk.ReasoningContent...)
			if err := w.Emit(Frame{Type: FrameReasoningDelta, ID: reasoningID, Delta: chunk.ReasoningContent}); err != nil {
				return nil, err
			}
		}
		if chunk.Content != "" {
			if err := closeReasoning(); err != nil {
				return nil, err
			}
			if textID == "" {
				textID = uuid.NewString()
				if err := w.Emit(Frame{Type: FrameTextStart, ID: textID}); err != nil {
					return nil, err
				}
			}
			text = append(text, chunk.Content...)
			if err := w.Emit(Frame{Type: FrameTextDelta, ID: textID, Delta: chunk.Content}); err != nil {
				return nil, err
			}
		}
	}
	if err := closeReasoning(); err != nil {
		return nil, err
	}
	if err := closeText(); err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	return schema.ConcatMessages(chunks)
}

// ToolInput announces a tool call the model made.
func (w *Writer) ToolInput(part chat.Part) error {
	part.State = chat.ToolInputAvailable
	w.upsertToolPart(part)
	return w.Emit(Frame{Type: FrameToolInputAvailable, ToolCallID: part.ToolCallID, ToolName: part.ToolName, Input: part.Input})
}

// ToolApprovalRequest pauses on a call that needs a human decision.
func (w *Writer) ToolApprovalRequest(part chat.Part) error {
	part.State = chat.ToolApprovalRequested
	if part.Approval == nil {
		part.Approval = &chat.Approval{ID: uuid.NewString()}
	}
	w.upsertToolPart(part)
	return w.Emit(Frame{Type: FrameToolApprovalRequest, ToolCallID: part.ToolCallID, ApprovalID: part.Approval.ID})
}

// ToolOutput records a tool result or failure.
func (w *Writer) ToolOutput(part chat.Part) error {
	if part.State == chat.ToolOutputError {
		w.upsertToolPart(part)
		return w.Emit(Frame{Type: FrameToolOutputError, ToolCallID: part.ToolCallID, ErrorText: part.ErrorText})
	}
	part.State = chat.ToolOutputAvailable
	w.upsertToolPart(part)
	return w.Emit(Frame{Type: FrameToolOutputAvailable, ToolCallID: part.ToolCallID, Output: part.Output})
}

// ToolDenied records a call the user refused.
func (w *Writer) ToolDenied(part chat.Part) error {
	part.State = chat.ToolOutputDenied
	w.upsertToolPart(part)
	return w.Emit(Frame{Type: FrameToolOutputDenied, ToolCallID: part.ToolCallID})
}

// Title emits the side-channel chat title event.
func (w *Writer) Title(title string) error {
	return w.Emit(Frame{Type: FrameChatTitle, Data: title, Transient: true})
}

// Error emits the error frame with a client-safe text.
func (w *Writer) Error(text string) error {
	return w.Emit(Frame{Type: FrameError, ErrorText: text})
}

// Finish emits finish and [DONE], then closes every sink. Later writes fail with ErrClosed.
func (w *Writer) Finish() error {
	finish, err := utils.EncodeSSEChunk(Frame{Type: FrameFinish})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	writeErr := w.writeLocked(finish)
	if writeErr == nil {
		writeErr = w.writeLocked(utils.DoneFrame())
	}
	w.closed = true
	for _, sink := range w.sinks {
		if err := sink.Close(); err != nil {
			w.logger.Warn("closing stream sink", zap.Error(err))
		}
	}
	if errors.Is(writeErr, ErrNoListeners) {
		return nil
	}
	return writeErr
}

func (w *Writer) appendPart(part chat.Part) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.message.Parts = append(w.message.Parts, part)
}

func (w *Writer) upsertToolPart(part chat.Part) {
	part.Type = chat.PartTool
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, existing := range w.message.Parts {
		if existing.Type == chat.PartTool && existing.ToolCallID == part.ToolCallID {
			if part.Input == nil {
				part.Input = existing.Input
			}
			if part.ToolName == "" {
				part.ToolName = existing.ToolName
			}
			if part.Approval == nil {
				part.Approval = existing.Approval
			}
			w.message.Parts[i] = part
			return
		}
	}
	w.message.Parts = append(w.message.Parts, part)
}
