package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// EmbedderSpec describes the embedding model's tensors.
type EmbedderSpec struct {
	InputName  string
	OutputName string
	InputSize  int
	Dim        int
}

// Embedder extracts face embeddings with an ONNX recognition model.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads the recognition model. The model must produce exactly
// spec.Dim components per face.
func NewEmbedder(modelPath string, spec EmbedderSpec, opts *ort.SessionOptions) (*Embedder, error) {
	if spec.Dim <= 0 || spec.InputSize <= 0 {
		return nil, fmt.Errorf("embedder needs positive dim and input size, got %d and %d", spec.Dim, spec.InputSize)
	}
	inputW, inputH := spec.InputSize, spec.InputSize

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(spec.Dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       spec.Dim,
	}, nil
}

// Extract runs the model on a CHW face crop and returns an L2-normalized
// embedding.
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)
	return embedding, nil
}

func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

func (e *Embedder) EmbeddingDim() int {
	return e.embDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
