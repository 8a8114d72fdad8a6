package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	Landmarks  [5][2]float32
}

// Area is the bounding box area in square pixels.
func (d Detection) Area() float32 {
	w := d.BBox[2] - d.BBox[0]
	h := d.BBox[3] - d.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detector runs RetinaFace face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// det_10g output node names, scores then bboxes then landmarks, each at
// strides 8, 16 and 32.
var detectorOutputs = []string{"448", "471", "494", "451", "474", "497", "454", "477", "500"}

// NewDetector loads the RetinaFace ONNX model. inputSize is the square model
// input side and must be a multiple of the largest stride.
func NewDetector(modelPath string, threshold float32, inputSize int, opts *ort.SessionOptions) (*Detector, error) {
	if inputSize <= 0 || inputSize%strides[len(strides)-1] != 0 {
		return nil, fmt.Errorf("detector input size %d must be a positive multiple of %d", inputSize, strides[len(strides)-1])
	}
	inputW, inputH := inputSize, inputSize

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Outputs have no batch dimension: (input/stride)^2 * anchors rows per
	// stride, with 1, 4 or 10 columns.
	widths := []int64{1, 4, 10}
	outputTensors := make([]*ort.Tensor[float32], len(detectorOutputs))
	outputValues := make([]ort.Value, len(detectorOutputs))

	for i, name := range detectorOutputs {
		stride := strides[i%len(strides)]
		rows := int64((inputW / stride) * (inputH / stride) * anchorsPerStride)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, widths[i/len(strides)]))
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		detectorOutputs,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed image.
// imgData should be CHW format [3, inputH, inputW], normalized.
// origW/origH are the original image dimensions for coordinate scaling.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(origW, origH)
	detections = nms(detections, 0.4)

	return detections, nil
}

// frame maps model input coordinates back onto the original image.
type frame struct {
	scaleW, scaleH float32
	width, height  float32
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32.
func (d *Detector) parseDetections(origW, origH int) []Detection {
	f := frame{
		scaleW: float32(origW) / float32(d.inputW),
		scaleH: float32(origH) / float32(d.inputH),
		width:  float32(origW),
		height: float32(origH),
	}

	var detections []Detection
	for si, stride := range strides {
		detections = append(detections, decodeStride(
			d.outputTensors[si].GetData(),
			d.outputTensors[si+len(strides)].GetData(),
			d.outputTensors[si+2*len(strides)].GetData(),
			stride, d.inputW/stride, d.inputH/stride, d.threshold, f,
		)...)
	}
	return detections
}

// decodeStride turns one stride's score, box and landmark rows into
// detections above threshold. Rows are laid out row-major over the feature
// map with anchorsPerStride anchors per cell.
func decodeStride(scores, bboxes, landmarks []float32, stride, fmW, fmH int, threshold float32, f frame) []Detection {
	var out []Detection
	st := float32(stride)

	idx := 0
	for cy := 0; cy < fmH; cy++ {
		for cx := 0; cx < fmW; cx++ {
			for a := 0; a < anchorsPerStride; a++ {
				if scores[idx] < threshold {
					idx++
					continue
				}
				ax := float32(cx) * st
				ay := float32(cy) * st

				box := [4]float32{
					clampF((ax-bboxes[idx*4+0]*st)*f.scaleW, 0, f.width),
					clampF((ay-bboxes[idx*4+1]*st)*f.scaleH, 0, f.height),
					clampF((ax+bboxes[idx*4+2]*st)*f.scaleW, 0, f.width),
					clampF((ay+bboxes[idx*4+3]*st)*f.scaleH, 0, f.height),
				}

				var lm [5][2]float32
				for li := 0; li < 5; li++ {
					lm[li][0] = (ax + landmarks[idx*10+li*2]*st) * f.scaleW
					lm[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * f.scaleH
				}

				out = append(out, Detection{BBox: box, Confidence: scores[idx], Landmarks: lm})
				idx++
			}
		}
	}
	return out
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
