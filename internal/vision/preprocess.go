package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// ErrInvalidImage is returned when uploaded bytes cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	plane := h * w

	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*w + x
			data[idx] = (float32(r>>8) - mean[0]) / std[0]
			data[plane+idx] = (float32(g>>8) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(b>>8) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			dst.Set(x, y, img.At(bounds.Min.X+x*srcW/targetW, bounds.Min.Y+y*srcH/targetH))
		}
	}
	return dst
}

// cropFace cuts the bounding box out of img, grown by padding (a fraction of
// the box size) on every side and clamped to the image.
func cropFace(img image.Image, bbox [4]float32, padding float64) image.Image {
	bounds := img.Bounds()

	w := float64(bbox[2] - bbox[0])
	h := float64(bbox[3] - bbox[1])
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := w * padding
	padH := h * padding
	rect := image.Rect(
		int(math.Floor(float64(bbox[0])-padW)),
		int(math.Floor(float64(bbox[1])-padH)),
		int(math.Ceil(float64(bbox[2])+padW)),
		int(math.Ceil(float64(bbox[3])+padH)),
	).Intersect(bounds)
	if rect.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for cy := rect.Min.Y; cy < rect.Max.Y; cy++ {
		for cx := rect.Min.X; cx < rect.Max.X; cx++ {
			crop.Set(cx-rect.Min.X, cy-rect.Min.Y, img.At(cx, cy))
		}
	}
	return crop
}

// largestFace returns the detection with the biggest box area; ties keep the
// more confident one.
func largestFace(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		a, b := d.Area(), best.Area()
		if a > b || (a == b && d.Confidence > best.Confidence) {
			best = d
		}
	}
	return best, true
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
