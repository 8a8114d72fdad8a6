package models

import (
	"time"

	"github.com/google/uuid"
)

// Authorization is an entry permit. A nil VehicleID means the person may walk
// in; a set VehicleID means the person may only drive in with that vehicle.
type Authorization struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PersonID  uuid.UUID  `json:"person_id" db:"person_id"`
	VehicleID *uuid.UUID `json:"vehicle_id,omitempty" db:"vehicle_id"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`

	// VehiclePlate is the canonical plate of the linked vehicle, filled by
	// snapshot queries.
	VehiclePlate string `json:"vehicle_plate,omitempty" db:"-"`
}
