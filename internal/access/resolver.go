package access

import (
	"github.com/google/uuid"
)

type Flow string

const (
	FlowWalkin  Flow = "walkin"
	FlowVehicle Flow = "vehicle"
)

type Outcome string

const (
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
)

type Reason string

const (
	ReasonFaceNotRecognized    Reason = "face_not_recognized"
	ReasonAmbiguousMatch       Reason = "ambiguous_match"
	ReasonWalkinAuthorized     Reason = "walkin_authorized"
	ReasonWalkinNotAuthorized  Reason = "walkin_not_authorized"
	ReasonVehicleAuthorized    Reason = "vehicle_authorized"
	ReasonVehicleMismatch      Reason = "vehicle_mismatch"
	ReasonVehicleNotAuthorized Reason = "vehicle_not_authorized"
)

// Decision is the single answer of one access check.
type Decision struct {
	Flow            Flow
	Outcome         Outcome
	Reason          Reason
	PersonID        *uuid.UUID
	Plate           string
	AuthorizationID *uuid.UUID

	// Match and PlateRead carry the inputs that led to the decision.
	Match     MatchResult
	PlateRead *PlateRead

	// Duplicates counts extra active grants that matched alongside the chosen
	// one. Anything above zero is a data inconsistency for the caller to log.
	Duplicates int
}

func (d Decision) Granted() bool {
	return d.Outcome == Granted
}

// ResolveInput is what the resolver knows about the capture. Plate is the
// canonical plate, empty when no valid plate was read.
type ResolveInput struct {
	PersonID *uuid.UUID
	Flow     Flow
	Plate    string
}

// Resolve decides access from the matched person, the read plate and the
// current grants. Disabled grants are ignored. It always returns exactly one
// Decision with a non-empty reason.
func Resolve(in ResolveInput, grants []Grant) Decision {
	flow := in.Flow
	if flow != FlowVehicle && in.Plate != "" {
		flow = FlowVehicle
	}
	if flow != FlowVehicle {
		flow = FlowWalkin
	}

	d := Decision{
		Flow:     flow,
		Outcome:  Denied,
		PersonID: in.PersonID,
		Plate:    in.Plate,
	}
	if in.PersonID == nil {
		d.Reason = ReasonFaceNotRecognized
		return d
	}
	person := *in.PersonID

	var matched []Grant
	hasVehicleGrant := false
	for _, g := range grants {
		if !g.Enabled() || g.Holder() != person {
			continue
		}
		switch g := g.(type) {
		case WalkinGrant:
			if flow == FlowWalkin {
				matched = append(matched, g)
			}
		case VehicleGrant:
			if flow != FlowVehicle {
				continue
			}
			hasVehicleGrant = true
			if in.Plate != "" && g.Plate == in.Plate {
				matched = append(matched, g)
			}
		}
	}

	switch {
	case len(matched) > 0:
		chosen := lowestGrant(matched)
		id := chosen.GrantID()
		d.Outcome = Granted
		d.AuthorizationID = &id
		d.Duplicates = len(matched) - 1
		if flow == FlowVehicle {
			d.Reason = ReasonVehicleAuthorized
		} else {
			d.Reason = ReasonWalkinAuthorized
		}
	case flow == FlowWalkin:
		d.Reason = ReasonWalkinNotAuthorized
	case hasVehicleGrant:
		d.Reason = ReasonVehicleMismatch
	default:
		d.Reason = ReasonVehicleNotAuthorized
	}
	return d
}
