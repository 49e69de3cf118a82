package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Named("http").Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送 {code, cause} 结构的错误响应，状态码由错误族决定
func RespondError(w http.ResponseWriter, err error) {
	ce := chaterr.As(err)
	RespondJSON(w, ce.Status(), ce)
}
