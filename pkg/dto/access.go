package dto

import "github.com/google/uuid"

type NormalizePlateRequest struct {
	Text string `json:"text" binding:"required"`
}

type PlateReadResponse struct {
	Plate      string `json:"plate"`
	Display    string `json:"display,omitempty"`
	FormatType string `json:"format_type"`
	RawText    string `json:"raw_text"`
	Valid      bool   `json:"valid"`
	Corrected  bool   `json:"corrected,omitempty"`
	Forwarded  bool   `json:"forwarded"`
	Message    string `json:"message,omitempty"`
}

// EmbeddingCheckRequest runs an access check with an embedding computed by
// the caller. A present Plate makes it a vehicle entry.
type EmbeddingCheckRequest struct {
	Embedding []float32 `json:"embedding" binding:"required,min=1"`
	Plate     *string   `json:"plate,omitempty"`
}

// AccessDecision is the answer to an access check and the payload broadcast
// to live subscribers.
type AccessDecision struct {
	EventID         uuid.UUID  `json:"event_id"`
	Flow            string     `json:"flow"`
	Outcome         string     `json:"outcome"`
	Granted         bool       `json:"granted"`
	Reason          string     `json:"reason"`
	PersonID        *uuid.UUID `json:"person_id,omitempty"`
	AuthorizationID *uuid.UUID `json:"authorization_id,omitempty"`
	Plate           string     `json:"plate,omitempty"`
	PlateFormat     string     `json:"plate_format,omitempty"`
	RawPlateText    string     `json:"raw_plate_text,omitempty"`
	PlateCorrected  bool       `json:"plate_corrected,omitempty"`
	Distance        *float64   `json:"distance,omitempty"`
	Ambiguous       bool       `json:"ambiguous,omitempty"`
	Candidates      int        `json:"candidates"`
	FaceKey         string     `json:"face_key,omitempty"`
	PlateKey        string     `json:"plate_key,omitempty"`
	Timestamp       string     `json:"timestamp"`
}

type AccessEventResponse struct {
	ID              uuid.UUID  `json:"id"`
	Flow            string     `json:"flow"`
	Outcome         string     `json:"outcome"`
	Reason          string     `json:"reason"`
	PersonID        *uuid.UUID `json:"person_id,omitempty"`
	AuthorizationID *uuid.UUID `json:"authorization_id,omitempty"`
	Plate           string     `json:"plate,omitempty"`
	PlateFormat     string     `json:"plate_format,omitempty"`
	RawPlateText    string     `json:"raw_plate_text,omitempty"`
	Distance        *float64   `json:"distance,omitempty"`
	FaceURL         string     `json:"face_url,omitempty"`
	PlateURL        string     `json:"plate_url,omitempty"`
	CreatedAt       string     `json:"created_at"`
}

type AccessEventListResponse struct {
	Events []AccessEventResponse `json:"events"`
	Total  int                   `json:"total"`
}

type AccessEventQuery struct {
	PersonID string `form:"person_id"`
	Plate    string `form:"plate"`
	Outcome  string `form:"outcome" binding:"omitempty,oneof=granted denied"`
	Flow     string `form:"flow" binding:"omitempty,oneof=walkin vehicle"`
	From     string `form:"from"`
	To       string `form:"to"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// WSMessage is a WebSocket frame for real-time decision delivery.
type WSMessage struct {
	Type     string         `json:"type"`
	Decision AccessDecision `json:"decision"`
}
