// Package access holds the access decision core: plate normalization, face
// matching and authorization resolution. Everything here is a pure function of
// its arguments; callers supply the enrollment and authorization snapshot.
package access

import (
	"errors"

	"github.com/your-org/guarda/internal/models"
)

// Snapshot is the enrollment and authorization state a check runs against.
type Snapshot struct {
	Embeddings []models.FaceEmbedding
	Grants     []Grant
}

// Core runs the walk-in and vehicle-entry flows.
type Core struct {
	matcher    *Matcher
	normalizer *Normalizer
}

func NewCore(matcher *Matcher, normalizer *Normalizer) *Core {
	return &Core{matcher: matcher, normalizer: normalizer}
}

func (c *Core) Matcher() *Matcher { return c.matcher }

func (c *Core) Normalizer() *Normalizer { return c.normalizer }

// CheckWalkin decides a walk-in entry for a probe embedding.
func (c *Core) CheckWalkin(probe []float32, snap Snapshot) (Decision, error) {
	return c.decide(FlowWalkin, probe, nil, snap)
}

// CheckVehicleEntry decides a vehicle entry for a probe embedding and the raw
// OCR text of the plate. Unreadable or empty plate text does not fail the
// check; it resolves as a vehicle entry without a plate.
func (c *Core) CheckVehicleEntry(probe []float32, rawPlate string, snap Snapshot) (Decision, error) {
	read := c.ReadPlate(rawPlate)
	return c.decide(FlowVehicle, probe, &read, snap)
}

// ReadPlate normalizes OCR output, mapping empty text to an invalid read.
func (c *Core) ReadPlate(raw string) PlateRead {
	read, err := c.normalizer.Normalize(raw)
	if errors.Is(err, ErrEmptyPlateText) {
		return PlateRead{Raw: raw, Format: PlateUnknown}
	}
	return read
}

// Unrecognized is the decision for a capture where no face could be found.
func Unrecognized(flow Flow, read *PlateRead) Decision {
	d := Decision{Flow: flow, Outcome: Denied, Reason: ReasonFaceNotRecognized, PlateRead: read}
	if read != nil && read.Valid {
		d.Plate = read.Canonical
	}
	return d
}

func (c *Core) decide(flow Flow, probe []float32, read *PlateRead, snap Snapshot) (Decision, error) {
	match, err := c.matcher.Match(probe, snap.Embeddings)
	if err != nil {
		return Decision{}, err
	}

	plate := ""
	if read != nil && read.Valid {
		plate = read.Canonical
	}

	if match.Ambiguous {
		return Decision{
			Flow:      flow,
			Outcome:   Denied,
			Reason:    ReasonAmbiguousMatch,
			Plate:     plate,
			Match:     match,
			PlateRead: read,
		}, nil
	}

	d := Resolve(ResolveInput{PersonID: match.PersonID, Flow: flow, Plate: plate}, snap.Grants)
	d.Match = match
	d.PlateRead = read
	return d, nil
}
