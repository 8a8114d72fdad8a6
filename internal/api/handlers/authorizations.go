package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/pkg/dto"
)

type AuthorizationStore interface {
	CreateAuthorization(ctx context.Context, personID uuid.UUID, vehicleID *uuid.UUID) (*models.Authorization, error)
	GetAuthorization(ctx context.Context, id uuid.UUID) (*models.Authorization, error)
	ListAuthorizations(ctx context.Context, f storage.AuthorizationFilter) ([]models.Authorization, error)
	DeactivateAuthorization(ctx context.Context, id uuid.UUID) error
}

type AuthorizationHandler struct {
	db    AuthorizationStore
	cache Invalidator
}

func NewAuthorizationHandler(db AuthorizationStore, cache Invalidator) *AuthorizationHandler {
	return &AuthorizationHandler{db: db, cache: cache}
}

func authorizationResponse(a *models.Authorization) dto.AuthorizationResponse {
	kind := "walkin"
	if a.VehicleID != nil {
		kind = "vehicle"
	}
	return dto.AuthorizationResponse{
		ID:        a.ID,
		PersonID:  a.PersonID,
		VehicleID: a.VehicleID,
		Plate:     a.VehiclePlate,
		Kind:      kind,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt.Format(timeLayout),
	}
}

// Create grants walk-in access, or vehicle access when vehicle_id is given.
func (h *AuthorizationHandler) Create(c *gin.Context) {
	var req dto.CreateAuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.db.CreateAuthorization(c.Request.Context(), req.PersonID, req.VehicleID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateAuthorization):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "person or vehicle not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	invalidate(c.Request.Context(), h.cache)

	// Re-read to pick up the vehicle plate.
	if full, err := h.db.GetAuthorization(c.Request.Context(), a.ID); err == nil && full != nil {
		a = full
	}
	c.JSON(http.StatusCreated, authorizationResponse(a))
}

func (h *AuthorizationHandler) List(c *gin.Context) {
	f := storage.AuthorizationFilter{IncludeInactive: queryBool(c, "include_inactive", false)}
	for key, dst := range map[string]**uuid.UUID{"person_id": &f.PersonID, "vehicle_id": &f.VehicleID} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return
		}
		*dst = &id
	}

	list, err := h.db.ListAuthorizations(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AuthorizationResponse, 0, len(list))
	for i := range list {
		resp = append(resp, authorizationResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"authorizations": resp, "total": len(resp)})
}

// Delete revokes an authorization. The row is kept for auditing.
func (h *AuthorizationHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "authorization")
	if !ok {
		return
	}

	if err := h.db.DeactivateAuthorization(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "authorization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
