// Package onnxscorer runs the optional predictive model through the ONNX
// runtime. The scorer is advisory: when no model is available, classification
// falls back to conditions-only and the engine keeps running.
package onnxscorer

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

// Config holds the model location and input geometry.
type Config struct {
	ModelPath   string // empty disables the scorer
	LibraryPath string // onnxruntime shared library, defaults per platform
	FeatureSize int    // length of the input vector
	Logger      ports.Logger
}

// Scorer implements ports.Scorer over a single ONNX session. The session
// reuses one input and one output tensor, so inference runs are serialized.
type Scorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
	logger  ports.Logger
}

var initOnce sync.Once

func initRuntime(libPath string) error {
	var err error
	initOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			if runtime.GOOS == "darwin" {
				libPath = "libonnxruntime.dylib"
			} else if runtime.GOOS == "windows" {
				libPath = "onnxruntime.dll"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// New loads the model. A missing or empty ModelPath returns a disabled scorer
// (nil session) whose Score reports ErrScorerUnavailable.
func New(cfg Config) (*Scorer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for onnx scorer")
	}
	if cfg.FeatureSize <= 0 {
		return nil, fmt.Errorf("%w: feature size must be positive", ports.ErrConfigurationError)
	}
	s := &Scorer{size: cfg.FeatureSize, logger: cfg.Logger}

	if cfg.ModelPath == "" {
		cfg.Logger.Warn(context.Background(), "no model path configured, scorer disabled")
		return s, nil
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		cfg.Logger.Warn(context.Background(), "model file not found, scorer disabled", map[string]interface{}{
			"modelPath": cfg.ModelPath,
		})
		return s, nil
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		cfg.Logger.Warn(context.Background(), "onnx runtime unavailable, scorer disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return s, nil
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.FeatureSize)), make([]float32, cfg.FeatureSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	// Output is [P(short), P(neutral), P(long)].
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}

	s.session = session
	s.input = inputTensor
	s.output = outputTensor
	cfg.Logger.Info(context.Background(), "predictive model loaded", map[string]interface{}{
		"modelPath":   cfg.ModelPath,
		"featureSize": cfg.FeatureSize,
	})
	return s, nil
}

// Score runs one inference pass over the feature vector.
func (s *Scorer) Score(ctx context.Context, symbol string, features []float64) (*ports.ScoreResult, error) {
	if s.session == nil {
		return nil, ports.ErrScorerUnavailable
	}
	if len(features) != s.size {
		return nil, fmt.Errorf("%w: got %d features, want %d", ports.ErrInvalidRequest, len(features), s.size)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.input.GetData()
	for i, f := range features {
		data[i] = float32(f)
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ports.ErrScorerUnavailable, err)
	}

	out := s.output.GetData()
	if len(out) < 3 {
		return nil, fmt.Errorf("%w: model produced %d outputs, want 3", ports.ErrScorerUnavailable, len(out))
	}
	return interpret(out[0], out[1], out[2]), nil
}

// interpret maps the class probabilities to a directional recommendation.
// A neutral-dominant output still reports the stronger side with its raw
// probability; the classifier's confidence thresholds filter weak calls.
func interpret(short, neutral, long float32) *ports.ScoreResult {
	if long >= short {
		return &ports.ScoreResult{Label: domain.Long, Confidence: float64(long)}
	}
	return &ports.ScoreResult{Label: domain.Short, Confidence: float64(short)}
}

// Close releases the session and its tensors.
func (s *Scorer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
}
