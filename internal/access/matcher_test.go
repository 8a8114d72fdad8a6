package access

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/guarda/internal/models"
)

const testDim = 128

// vecAt returns a vector at the given L2 distance from the zero vector.
func vecAt(distance float32) []float32 {
	v := make([]float32, testDim)
	v[0] = distance
	return v
}

func face(person uuid.UUID, distance float32) models.FaceEmbedding {
	return models.FaceEmbedding{ID: uuid.New(), PersonID: person, Embedding: vecAt(distance)}
}

func TestMatchBestUnderThreshold(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(testDim, 0.6, 0.001)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(a, 0.5), face(b, 0.3)})
	require.NoError(t, err)
	require.True(t, res.IsMatch)
	assert.Equal(t, b, *res.PersonID)
	assert.InDelta(t, 0.3, res.Distance, 1e-6)
	assert.Equal(t, 2, res.Candidates)
}

func TestMatchOverThreshold(t *testing.T) {
	m := NewMatcher(testDim, 0.6, 0.001)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(uuid.New(), 0.9), face(uuid.New(), 1.2)})
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.Nil(t, res.PersonID)
	assert.InDelta(t, 0.9, res.Distance, 1e-6)
}

func TestMatchThresholdInclusive(t *testing.T) {
	m := NewMatcher(testDim, 0.5, 0)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(uuid.New(), 0.5)})
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
}

func TestMatchEmptyEnrollment(t *testing.T) {
	m := NewMatcher(testDim, 0.6, 0.001)

	res, err := m.Match(vecAt(0), nil)
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.False(t, res.HasCandidate())
	assert.True(t, math.IsInf(res.Distance, 1))
}

func TestMatchDimensionMismatch(t *testing.T) {
	m := NewMatcher(testDim, 0.6, 0.001)

	_, err := m.Match(make([]float32, 64), []models.FaceEmbedding{face(uuid.New(), 0.1)})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	bad := models.FaceEmbedding{ID: uuid.New(), PersonID: uuid.New(), Embedding: make([]float32, 512)}
	_, err = m.Match(vecAt(0), []models.FaceEmbedding{face(uuid.New(), 0.1), bad})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMatchRejectsNonFiniteEmbedding(t *testing.T) {
	m := NewMatcher(2, 0.6, 0.001)
	enrolled := []models.FaceEmbedding{{ID: uuid.New(), PersonID: uuid.New(), Embedding: []float32{1, 1}}}

	for _, probe := range [][]float32{
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 0},
		{0, float32(math.Inf(-1))},
	} {
		res, err := m.Match(probe, enrolled)
		require.ErrorIs(t, err, ErrInvalidEmbedding)
		assert.False(t, res.IsMatch)
		assert.Nil(t, res.PersonID)
	}
}

func TestMatchSkipsCorruptEnrollment(t *testing.T) {
	good := uuid.New()
	m := NewMatcher(2, 0.6, 0.001)
	enrolled := []models.FaceEmbedding{
		{ID: uuid.New(), PersonID: uuid.New(), Embedding: []float32{float32(math.NaN()), 0}},
		{ID: uuid.New(), PersonID: good, Embedding: []float32{0.1, 0}},
	}

	res, err := m.Match([]float32{0, 0}, enrolled)
	require.NoError(t, err)
	require.True(t, res.IsMatch)
	assert.Equal(t, good, *res.PersonID)
	assert.Equal(t, 1, res.Candidates)

	res, err = m.Match([]float32{0, 0}, enrolled[:1])
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.False(t, res.HasCandidate())
}

func TestMatchAggregatesPerPerson(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(testDim, 0.6, 0.05)

	// a has two embeddings; only the closest one counts, and b is far enough
	// from it to avoid the ambiguity gap.
	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(a, 0.55), face(b, 0.4), face(a, 0.2)})
	require.NoError(t, err)
	require.True(t, res.IsMatch)
	assert.Equal(t, a, *res.PersonID)
	assert.Equal(t, 2, res.Candidates)
	assert.InDelta(t, 0.2, res.Distance, 1e-6)
}

func TestMatchSamePersonNotAmbiguous(t *testing.T) {
	a := uuid.New()
	m := NewMatcher(testDim, 0.6, 0.01)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(a, 0.3), face(a, 0.3)})
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.False(t, res.Ambiguous)
}

func TestMatchAmbiguousGap(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(testDim, 0.6, 0.01)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(a, 0.300), face(b, 0.305)})
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.True(t, res.Ambiguous)
	assert.Nil(t, res.PersonID)
}

func TestMatchTieWithoutEpsilonKeepsEnrollmentOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(testDim, 0.6, 0)

	res, err := m.Match(vecAt(0), []models.FaceEmbedding{face(a, 0.3), face(b, 0.3)})
	require.NoError(t, err)
	require.True(t, res.IsMatch)
	assert.Equal(t, a, *res.PersonID)

	res, err = m.Match(vecAt(0), []models.FaceEmbedding{face(b, 0.3), face(a, 0.3)})
	require.NoError(t, err)
	assert.Equal(t, b, *res.PersonID)
}

func TestMatchThresholdMonotonic(t *testing.T) {
	enrolled := []models.FaceEmbedding{
		face(uuid.New(), 0.31),
		face(uuid.New(), 0.47),
		face(uuid.New(), 0.475),
		face(uuid.New(), 0.9),
	}
	probes := [][]float32{vecAt(0), vecAt(0.2), vecAt(0.46), vecAt(-0.4)}

	for _, eps := range []float64{0, 0.001, 0.01} {
		for _, probe := range probes {
			matched := false
			for thr := 0.0; thr <= 2.0; thr += 0.01 {
				res, err := NewMatcher(testDim, thr, eps).Match(probe, enrolled)
				require.NoError(t, err)
				if matched {
					require.True(t, res.IsMatch, "threshold %.2f eps %.3f turned a match into a non-match", thr, eps)
				}
				matched = res.IsMatch
			}
		}
	}
}

func TestDistance(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{3, 4, 0}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-9)
	assert.Equal(t, 0.0, Distance(b, b))
}
