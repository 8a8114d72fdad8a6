package dto

import (
	"github.com/google/uuid"
)

type CreatePersonRequest struct {
	Name     string  `json:"name" binding:"required,max=200"`
	Document *string `json:"document,omitempty" binding:"omitempty,max=64"`
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

type PersonResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Document  *string   `json:"document,omitempty"`
	IsActive  bool      `json:"is_active"`
	FaceCount int       `json:"face_count"`
	CreatedAt string    `json:"created_at"`
}

type FaceEmbeddingResponse struct {
	ID        uuid.UUID `json:"id"`
	PersonID  uuid.UUID `json:"person_id"`
	Quality   float32   `json:"quality"`
	SourceKey string    `json:"source_key"`
	CreatedAt string    `json:"created_at"`
}

type AddFacesResponse struct {
	PersonID uuid.UUID               `json:"person_id"`
	Replaced bool                    `json:"replaced"`
	Faces    []FaceEmbeddingResponse `json:"faces"`
}

// VerifyFaceResponse reports who a face photo matches without deciding
// access.
type VerifyFaceResponse struct {
	Matched    bool       `json:"matched"`
	PersonID   *uuid.UUID `json:"person_id,omitempty"`
	PersonName string     `json:"person_name,omitempty"`
	Distance   *float64   `json:"distance,omitempty"`
	Ambiguous  bool       `json:"ambiguous,omitempty"`
	Candidates int        `json:"candidates"`
}
