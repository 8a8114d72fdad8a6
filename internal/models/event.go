package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessEvent is the audit record of one access decision.
type AccessEvent struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Flow            string     `json:"flow" db:"flow"`
	Outcome         string     `json:"outcome" db:"outcome"`
	Reason          string     `json:"reason" db:"reason"`
	PersonID        *uuid.UUID `json:"person_id,omitempty" db:"person_id"`
	AuthorizationID *uuid.UUID `json:"authorization_id,omitempty" db:"authorization_id"`
	Plate           string     `json:"plate,omitempty" db:"plate"`
	PlateFormat     string     `json:"plate_format,omitempty" db:"plate_format"`
	RawPlateText    string     `json:"raw_plate_text,omitempty" db:"raw_plate_text"`
	Distance        *float64   `json:"distance,omitempty" db:"distance"`
	FaceKey         string     `json:"face_key,omitempty" db:"face_key"`
	PlateKey        string     `json:"plate_key,omitempty" db:"plate_key"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// PlateEvent is published for every successfully normalized plate so the
// forwarder can relay it to the external endpoint.
type PlateEvent struct {
	Plate      string    `json:"plate"`
	FormatType string    `json:"format_type"`
	RawText    string    `json:"raw_text"`
	EventID    uuid.UUID `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
}
