package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStride(t *testing.T) {
	// 2x1 feature map, 2 anchors per cell: 4 rows.
	scores := []float32{0.1, 0.9, 0.2, 0.3}
	bboxes := make([]float32, 4*4)
	copy(bboxes[4:8], []float32{1, 1, 2, 2})
	landmarks := make([]float32, 4*10)

	f := frame{scaleW: 2, scaleH: 2, width: 1000, height: 1000}
	dets := decodeStride(scores, bboxes, landmarks, 8, 2, 1, 0.5, f)

	require.Len(t, dets, 1)
	// Anchor at (0,0): box is (-8,-8)-(16,16) at stride 8, scaled by 2 and
	// clamped at zero.
	assert.Equal(t, [4]float32{0, 0, 32, 32}, dets[0].BBox)
	assert.Equal(t, float32(0.9), dets[0].Confidence)
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.8},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.7},
	}
	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}

func TestIOU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.Equal(t, float32(0), iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}))
	assert.InDelta(t, 25.0/175.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestDetectionArea(t *testing.T) {
	assert.Equal(t, float32(200), Detection{BBox: [4]float32{0, 0, 20, 10}}.Area())
	assert.Equal(t, float32(0), Detection{BBox: [4]float32{10, 10, 5, 20}}.Area())
}
