package access

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/models"
)

// ErrDimensionMismatch is returned when a probe or enrolled vector does not
// have the configured number of components.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrInvalidEmbedding is returned for a probe with a NaN or infinite component.
var ErrInvalidEmbedding = errors.New("embedding has non-finite components")

// MatchResult describes the closest enrolled person for a probe.
type MatchResult struct {
	// PersonID is set only when IsMatch is true.
	PersonID *uuid.UUID
	// Distance is the best per-person distance, +Inf with no candidates.
	Distance   float64
	IsMatch    bool
	Ambiguous  bool
	Candidates int
}

// HasCandidate reports whether at least one enrolled person was compared.
func (r MatchResult) HasCandidate() bool {
	return r.Candidates > 0
}

// Matcher compares probe embeddings against an enrollment snapshot.
type Matcher struct {
	dim       int
	threshold float64
	epsilon   float64
}

// NewMatcher returns a matcher for dim-component vectors. A probe matches
// when its best distance is <= threshold. When the gap between the two
// closest persons is below epsilon the result is flagged ambiguous instead;
// epsilon 0 disables that check.
func NewMatcher(dim int, threshold, epsilon float64) *Matcher {
	return &Matcher{dim: dim, threshold: threshold, epsilon: epsilon}
}

func (m *Matcher) Dim() int { return m.dim }

func (m *Matcher) Threshold() float64 { return m.threshold }

type candidate struct {
	personID uuid.UUID
	distance float64
}

// Match returns the closest person for probe. Every embedding of a person
// counts toward one candidate whose distance is the minimum over them.
// Persons keep their first-seen order, which decides exact ties.
func (m *Matcher) Match(probe []float32, enrolled []models.FaceEmbedding) (MatchResult, error) {
	if len(probe) != m.dim {
		return MatchResult{}, fmt.Errorf("%w: probe has %d components, want %d", ErrDimensionMismatch, len(probe), m.dim)
	}
	if !Finite(probe) {
		return MatchResult{}, ErrInvalidEmbedding
	}

	var candidates []candidate
	index := make(map[uuid.UUID]int)
	for _, fe := range enrolled {
		if len(fe.Embedding) != m.dim {
			return MatchResult{}, fmt.Errorf("%w: embedding %s has %d components, want %d",
				ErrDimensionMismatch, fe.ID, len(fe.Embedding), m.dim)
		}
		d := Distance(probe, fe.Embedding)
		if math.IsNaN(d) {
			// A corrupt enrolled vector never matches.
			continue
		}
		if i, ok := index[fe.PersonID]; ok {
			if d < candidates[i].distance {
				candidates[i].distance = d
			}
			continue
		}
		index[fe.PersonID] = len(candidates)
		candidates = append(candidates, candidate{personID: fe.PersonID, distance: d})
	}

	res := MatchResult{Distance: math.Inf(1), Candidates: len(candidates)}
	if len(candidates) == 0 {
		return res, nil
	}

	best, second := -1, -1
	for i, c := range candidates {
		switch {
		case best < 0 || c.distance < candidates[best].distance:
			second = best
			best = i
		case second < 0 || c.distance < candidates[second].distance:
			second = i
		}
	}

	res.Distance = candidates[best].distance
	if res.Distance > m.threshold {
		return res, nil
	}
	if m.epsilon > 0 && second >= 0 && candidates[second].distance-res.Distance < m.epsilon {
		res.Ambiguous = true
		return res, nil
	}

	id := candidates[best].personID
	res.PersonID = &id
	res.IsMatch = true
	return res, nil
}

// Finite reports whether every component of v is a finite number.
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Distance is the Euclidean distance between two vectors of equal length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
