// Package vision turns face photos into embeddings with ONNX Runtime: a
// RetinaFace detector finds faces and a recognition model embeds the largest
// one.
package vision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/guarda/internal/config"
	"github.com/your-org/guarda/internal/observability"
)

// ErrNoFaceDetected is returned when an image contains no usable face.
var ErrNoFaceDetected = errors.New("no face detected")

type faceDetector interface {
	Detect(imgData []float32, origW, origH int) ([]Detection, error)
	InputSize() (int, int)
	Close()
}

type faceEmbedder interface {
	Extract(faceData []float32) ([]float32, error)
	InputSize() (int, int)
	EmbeddingDim() int
	Close()
}

// Extractor produces one embedding per image. It is safe for concurrent use;
// inference runs one image at a time because the ONNX tensors are shared.
type Extractor struct {
	mu       sync.Mutex
	detector faceDetector
	embedder faceEmbedder
	padding  float64
}

// InitRuntime loads the ONNX Runtime shared library. libPath may be empty to
// use the platform default name.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

func defaultONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// NewExtractor loads the detector and embedder models from cfg.ModelsDir.
func NewExtractor(cfg config.VisionConfig, embeddingDim int) (*Extractor, error) {
	det, err := NewDetector(
		filepath.Join(cfg.ModelsDir, cfg.DetectorModel),
		float32(cfg.DetectionThreshold),
		cfg.InputSize,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	emb, err := NewEmbedder(filepath.Join(cfg.ModelsDir, cfg.EmbedderModel), EmbedderSpec{
		InputName:  cfg.EmbedderInput,
		OutputName: cfg.EmbedderOutput,
		InputSize:  cfg.EmbedderInputSize,
		Dim:        embeddingDim,
	}, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return newExtractor(det, emb, cfg.CropPadding), nil
}

func newExtractor(det faceDetector, emb faceEmbedder, padding float64) *Extractor {
	return &Extractor{detector: det, embedder: emb, padding: padding}
}

// Dim is the number of components of every returned embedding.
func (x *Extractor) Dim() int {
	return x.embedder.EmbeddingDim()
}

// Extract decodes img, picks the largest detected face and returns its
// embedding together with the detection confidence.
func (x *Extractor) Extract(ctx context.Context, img []byte) ([]float32, float32, error) {
	decoded, err := decodeImage(img)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	bounds := decoded.Bounds()
	detW, detH := x.detector.InputSize()

	start := time.Now()
	dets, err := x.detector.Detect(preprocessForDetection(decoded, detW, detH), bounds.Dx(), bounds.Dy())
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, fmt.Errorf("detect: %w", err)
	}

	best, ok := largestFace(dets)
	if !ok {
		return nil, 0, ErrNoFaceDetected
	}
	crop := cropFace(decoded, best.BBox, x.padding)
	if crop == nil {
		return nil, 0, ErrNoFaceDetected
	}

	embW, embH := x.embedder.InputSize()
	start = time.Now()
	embedding, err := x.embedder.Extract(preprocessForEmbedding(crop, embW, embH))
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, fmt.Errorf("embed: %w", err)
	}
	return embedding, best.Confidence, nil
}

func (x *Extractor) Close() {
	x.detector.Close()
	x.embedder.Close()
}
