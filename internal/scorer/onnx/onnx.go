// Package onnx scores actions with an exported ONNX classifier. The model
// must take a float32 tensor of shape [1, n] named "input" and produce
// logits of shape [1, 3] named "output", in LONG, SHORT, FLAT order.
package onnx

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"policytrader/internal/domain"
)

var (
	initOnce sync.Once
	initErr  error
)

// DefaultLibraryPath returns the usual onnxruntime shared library name for
// the current OS.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

// initialize loads the shared library once per process.
func initialize(libPath string) error {
	initOnce.Do(func() {
		if libPath == "" {
			libPath = DefaultLibraryPath()
		}
		ort.SetSharedLibraryPath(libPath)
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Scorer runs one inference session. Calls are serialised because the
// session's tensors are reused between runs.
type Scorer struct {
	mu      sync.Mutex
	n       int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// New loads the model at modelPath for feature vectors of length n. libPath
// may be empty to use DefaultLibraryPath.
func New(modelPath, libPath string, n int) (*Scorer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("feature count must be positive, got %d", n)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := initialize(libPath); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(n)), make([]float32, n))
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(domain.Actions))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &Scorer{n: n, session: session, input: input, output: output}, nil
}

// Scores runs the model on features and returns softmax probabilities per
// action. The symbol is unused; one model serves every symbol.
func (s *Scorer) Scores(_ string, features []float64) (domain.Scores, error) {
	if len(features) != s.n {
		return nil, fmt.Errorf("expected %d features, got %d", s.n, len(features))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.input.GetData()
	for i, v := range features {
		data[i] = float32(v)
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	out := s.output.GetData()
	logits := make([]float64, len(out))
	for i, v := range out {
		logits[i] = float64(v)
	}
	return ToScores(Softmax(logits))
}

// Close releases the session and its tensors.
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
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
	return err
}

// Softmax normalises logits into probabilities. Non-finite input yields a
// uniform distribution.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	hi := math.Inf(-1)
	for _, v := range logits {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			for i := range out {
				out[i] = 1 / float64(len(out))
			}
			return out
		}
		hi = math.Max(hi, v)
	}
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ToScores maps a probability vector in action order onto Scores.
func ToScores(probs []float64) (domain.Scores, error) {
	if len(probs) != len(domain.Actions) {
		return nil, fmt.Errorf("model produced %d outputs, want %d", len(probs), len(domain.Actions))
	}
	scores := make(domain.Scores, len(probs))
	for i, a := range domain.Actions {
		scores[a] = probs[i]
	}
	return scores, nil
}
