package stream

import (
	"io"
	"sync/atomic"

	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

// Sink receives encoded SSE frames in order.
type Sink interface {
	WriteFrame(frame []byte) error
	// Close is called once after the last frame.
	Close() error
}

// ClientSink writes frames to the HTTP response and flushes each one.
type ClientSink struct {
	w    io.Writer
	gone atomic.Bool
}

// NewClientSink wraps the response writer.
func NewClientSink(w io.Writer) *ClientSink {
	return &ClientSink{w: w}
}

func (c *ClientSink) WriteFrame(frame []byte) error {
	if c.gone.Load() {
		return ErrClientGone
	}
	if err := utils.WriteSSEFrame(c.w, frame); err != nil {
		c.gone.Store(true)
		return ErrClientGone
	}
	return nil
}

func (c *ClientSink) Close() error { return nil }

// Gone reports whether a write to the client has failed.
func (c *ClientSink) Gone() bool { return c.gone.Load() }
