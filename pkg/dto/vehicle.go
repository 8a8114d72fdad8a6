package dto

import "github.com/google/uuid"

type CreateVehicleRequest struct {
	Plate       string  `json:"plate" binding:"required,plate"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=200"`
}

type VehicleResponse struct {
	ID          uuid.UUID `json:"id"`
	Plate       string    `json:"plate"`
	Display     string    `json:"display"`
	Format      string    `json:"format_type"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   string    `json:"created_at"`
}

type CreateAuthorizationRequest struct {
	PersonID  uuid.UUID  `json:"person_id" binding:"required"`
	VehicleID *uuid.UUID `json:"vehicle_id,omitempty"`
}

type AuthorizationResponse struct {
	ID        uuid.UUID  `json:"id"`
	PersonID  uuid.UUID  `json:"person_id"`
	VehicleID *uuid.UUID `json:"vehicle_id,omitempty"`
	Plate     string     `json:"plate,omitempty"`
	Kind      string     `json:"kind"`
	IsActive  bool       `json:"is_active"`
	CreatedAt string     `json:"created_at"`
}
