package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/pkg/dto"
)

const captureURLTTL = 15 * time.Minute

type EventStore interface {
	QueryEvents(ctx context.Context, f storage.EventFilter) ([]models.AccessEvent, int, error)
}

// URLSigner issues temporary links to stored captures.
type URLSigner interface {
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type EventHandler struct {
	db     EventStore
	signer URLSigner
}

func NewEventHandler(db EventStore, signer URLSigner) *EventHandler {
	return &EventHandler{db: db, signer: signer}
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns the access log, newest first.
func (h *EventHandler) List(c *gin.Context) {
	var q dto.AccessEventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f := storage.EventFilter{Plate: q.Plate, Outcome: q.Outcome, Flow: q.Flow, Limit: q.Limit, Offset: q.Offset}

	var err error
	if f.From, err = parseTime(q.From); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	if f.To, err = parseTime(q.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}
	if q.PersonID != "" {
		id, err := uuid.Parse(q.PersonID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		f.PersonID = &id
	}

	events, total, err := h.db.QueryEvents(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AccessEventListResponse{Events: make([]dto.AccessEventResponse, 0, len(events)), Total: total}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.AccessEventResponse{
			ID:              ev.ID,
			Flow:            ev.Flow,
			Outcome:         ev.Outcome,
			Reason:          ev.Reason,
			PersonID:        ev.PersonID,
			AuthorizationID: ev.AuthorizationID,
			Plate:           ev.Plate,
			PlateFormat:     ev.PlateFormat,
			RawPlateText:    ev.RawPlateText,
			Distance:        ev.Distance,
			FaceURL:         h.sign(c.Request.Context(), ev.FaceKey),
			PlateURL:        h.sign(c.Request.Context(), ev.PlateKey),
			CreatedAt:       ev.CreatedAt.Format(timeLayout),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (h *EventHandler) sign(ctx context.Context, key string) string {
	if key == "" || h.signer == nil {
		return ""
	}
	url, err := h.signer.PresignedURL(ctx, key, captureURLTTL)
	if err != nil {
		return ""
	}
	return url
}
