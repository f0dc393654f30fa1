//go:build !onnx
// +build !onnx

package recognizer

import (
	"go.uber.org/zap"
)

// NewBackend returns nil when the 'onnx' build tag is not set.
func NewBackend(logger *zap.Logger, cfg BackendConfig) Backend {
	logger.Debug("ONNX backend not compiled in", zap.String("model", cfg.ModelPath))
	return nil
}
