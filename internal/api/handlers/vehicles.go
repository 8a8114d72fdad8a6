package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/pkg/dto"
)

type VehicleStore interface {
	CreateVehicle(ctx context.Context, plate string, format access.PlateFormat, description *string) (*models.Vehicle, error)
	GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	GetVehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, activeOnly bool) ([]models.Vehicle, error)
	SetVehicleActive(ctx context.Context, id uuid.UUID, active bool) error
}

// VehicleHandler registers vehicles. Plates are stored in canonical form;
// registration never applies OCR correction.
type VehicleHandler struct {
	db     VehicleStore
	plates *access.Normalizer
	cache  Invalidator
}

func NewVehicleHandler(db VehicleStore, cache Invalidator) *VehicleHandler {
	return &VehicleHandler{db: db, plates: access.NewNormalizer(false, nil), cache: cache}
}

func vehicleResponse(v *models.Vehicle) dto.VehicleResponse {
	read := access.PlateRead{Canonical: v.Plate, Format: access.PlateFormat(v.Format), Valid: true}
	return dto.VehicleResponse{
		ID:          v.ID,
		Plate:       v.Plate,
		Display:     read.Display(),
		Format:      v.Format,
		Description: v.Description,
		IsActive:    v.IsActive,
		CreatedAt:   v.CreatedAt.Format(timeLayout),
	}
}

// canonical normalizes a registration plate, writing a 400 when it does not
// match either grammar.
func (h *VehicleHandler) canonical(c *gin.Context, raw string) (access.PlateRead, bool) {
	read, err := h.plates.Normalize(raw)
	if err != nil || !read.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plate: " + raw})
		return read, false
	}
	return read, true
}

func (h *VehicleHandler) Create(c *gin.Context) {
	var req dto.CreateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	read, ok := h.canonical(c, req.Plate)
	if !ok {
		return
	}

	v, err := h.db.CreateVehicle(c.Request.Context(), read.Canonical, read.Format, req.Description)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicatePlate) {
			c.JSON(http.StatusConflict, gin.H{"error": "plate already registered: " + read.Canonical})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	c.JSON(http.StatusCreated, vehicleResponse(v))
}

func (h *VehicleHandler) List(c *gin.Context) {
	vehicles, err := h.db.ListVehicles(c.Request.Context(), queryBool(c, "active", false))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VehicleResponse, 0, len(vehicles))
	for i := range vehicles {
		resp = append(resp, vehicleResponse(&vehicles[i]))
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": resp, "total": len(resp)})
}

func (h *VehicleHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "vehicle")
	if !ok {
		return
	}

	v, err := h.db.GetVehicle(c.Request.Context(), id)
	h.respond(c, v, err)
}

// ByPlate looks a vehicle up by plate in any accepted spelling.
func (h *VehicleHandler) ByPlate(c *gin.Context) {
	read, ok := h.canonical(c, c.Param("plate"))
	if !ok {
		return
	}

	v, err := h.db.GetVehicleByPlate(c.Request.Context(), read.Canonical)
	h.respond(c, v, err)
}

func (h *VehicleHandler) respond(c *gin.Context, v *models.Vehicle, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	c.JSON(http.StatusOK, vehicleResponse(v))
}

func (h *VehicleHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "vehicle")
	if !ok {
		return
	}

	var req dto.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetVehicleActive(c.Request.Context(), id, *req.IsActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}
