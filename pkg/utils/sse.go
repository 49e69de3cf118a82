package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEDone UI 消息流的结束标记
const SSEDone = "[DONE]"

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// EncodeSSEChunk 将 payload 编码为一帧 "data: ...\n\n"
func EncodeSSEChunk(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sse payload: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// DoneFrame 返回流结束帧
func DoneFrame() []byte {
	return []byte("data: " + SSEDone + "\n\n")
}

// WriteSSEFrame 写出一帧已编码的数据并在可能时刷新
func WriteSSEFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
