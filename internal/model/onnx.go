package model

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library. libPath may be empty to
// use the library's default lookup.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// session owns one ONNX session and the tensors bound to it. A session is
// used by one goroutine at a time.
type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

type onnxBackbone struct {
	spec        BackboneSpec
	inputSize   int
	featureSize int
	sessions    []*session
	pool        chan *session
}

func newONNXBackbone(spec BackboneSpec, modelPath string, opts BackboneOptions) (*onnxBackbone, error) {
	if modelPath == "" {
		return nil, errors.New("onnx backbone needs a model path")
	}
	if len(spec.InputShape) != 4 {
		return nil, fmt.Errorf("onnx backbone input shape must be 4-D, got %v", spec.InputShape)
	}
	if len(spec.OutputShape) != 2 && len(spec.OutputShape) != 4 {
		return nil, fmt.Errorf("onnx backbone output shape must be 2-D or 4-D, got %v", spec.OutputShape)
	}
	if err := InitRuntime(opts.RuntimeLib); err != nil {
		return nil, err
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	b := &onnxBackbone{
		spec:      spec,
		inputSize: int(ort.NewShape(spec.InputShape...).FlattenedSize()),
		pool:      make(chan *session, poolSize),
	}
	switch len(spec.OutputShape) {
	case 2:
		b.featureSize = int(spec.OutputShape[1])
	case 4:
		if spec.Layout == LayoutNHWC {
			b.featureSize = int(spec.OutputShape[3])
		} else {
			b.featureSize = int(spec.OutputShape[1])
		}
	}

	for i := 0; i < poolSize; i++ {
		s, err := newSession(spec, modelPath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sessions = append(b.sessions, s)
		b.pool <- s
	}
	return b, nil
}

func newSession(spec BackboneSpec, modelPath string) (*session, error) {
	inputShape := ort.NewShape(spec.InputShape...)
	outputShape := ort.NewShape(spec.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	s, err := ort.NewAdvancedSession(modelPath,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      s,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *onnxBackbone) Spec() BackboneSpec { return b.spec }

func (b *onnxBackbone) FeatureSize() int { return b.featureSize }

func (b *onnxBackbone) Features(ctx context.Context, input []float32) ([]float64, error) {
	if len(input) != b.inputSize {
		return nil, fmt.Errorf("backbone expects %d values, got %d", b.inputSize, len(input))
	}

	var s *session
	select {
	case s = <-b.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { b.pool <- s }()

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	if len(b.spec.OutputShape) == 4 {
		return globalAveragePool(out, b.spec.OutputShape, b.spec.Layout)
	}
	features := make([]float64, b.featureSize)
	for i := range features {
		features[i] = float64(out[i])
	}
	return features, nil
}

// Close destroys every session. It must not race with Features.
func (b *onnxBackbone) Close() error {
	for _, s := range b.sessions {
		s.destroy()
	}
	b.sessions = nil
	return nil
}
