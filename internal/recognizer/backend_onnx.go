//go:build onnx
// +build onnx

package recognizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend implements Backend using ONNX Runtime (via yalue/onnxruntime_go).
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	vocab      Vocab
	labels     []string
	maxLength  int
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewBackend(logger *zap.Logger, cfg BackendConfig) Backend {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if len(cfg.Labels) == 0 {
		logger.Error("NER backend requires labels", zap.String("model", cfg.ModelPath))
		return nil
	}

	vocab, err := LoadVocab(cfg.VocabPath)
	if err != nil {
		logger.Error("Failed to load NER vocabulary", zap.Error(err), zap.String("vocab", cfg.VocabPath))
		return nil
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}

	var inputNames []string
	for _, ii := range inputsInfo {
		name := strings.ToLower(ii.Name)
		if strings.Contains(name, "ids") || strings.Contains(name, "mask") {
			inputNames = append(inputNames, ii.Name)
		}
	}
	if len(inputNames) == 0 || len(outputsInfo) == 0 {
		logger.Error("ONNX model has unexpected IO", zap.String("model", cfg.ModelPath))
		return nil
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}

	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = 256
	}

	logger.Info("ONNX NER backend ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.Int("labels", len(cfg.Labels)),
	)
	return &OnnxBackend{
		session:    sess,
		inputNames: inputNames,
		outputName: outputName,
		vocab:      vocab,
		labels:     cfg.Labels,
		maxLength:  maxLength,
		logger:     logger,
		ready:      true,
	}
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// Predict runs token classification over text.
func (b *OnnxBackend) Predict(ctx context.Context, text string) ([]Result, error) {
	if !b.IsReady() {
		return nil, fmt.Errorf("onnx backend not ready")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc := encodeSyllables(text, b.vocab, b.maxLength)
	seqLen := len(enc.ids)
	shape := ort.NewShape(1, int64(seqLen))

	idsTensor, err := ort.NewTensor[int64](shape, enc.ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, enc.mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		if strings.Contains(strings.ToLower(name), "mask") {
			inputs = append(inputs, maskTensor)
		} else {
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer func() { _ = outputs[0].Destroy() }()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := outTensor.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != seqLen || int(outShape[2]) != len(b.labels) {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}

	return decodeBIO(outTensor.GetData(), b.labels, enc.offsets), nil
}
