package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/gate"
	"github.com/your-org/guarda/internal/vision"
	"github.com/your-org/guarda/pkg/dto"
)

// Gate runs access checks and plate reads.
type Gate interface {
	Check(ctx context.Context, req gate.CheckRequest) (*gate.Result, error)
	CheckEmbedding(ctx context.Context, probe []float32, plate *string) (*gate.Result, error)
	ReadPlate(ctx context.Context, img []byte) (access.PlateRead, bool, error)
}

type AccessHandler struct {
	gate       Gate
	normalizer *access.Normalizer
	maxUpload  int64

	// Broadcast, when set, receives every decision directly. Used when
	// decisions are not relayed through the message bus.
	Broadcast func(dto.AccessDecision)
}

func NewAccessHandler(g Gate, normalizer *access.Normalizer, maxUpload int64) *AccessHandler {
	return &AccessHandler{gate: g, normalizer: normalizer, maxUpload: maxUpload}
}

func (h *AccessHandler) reply(c *gin.Context, res *gate.Result) {
	out := res.Response()
	if h.Broadcast != nil {
		h.Broadcast(out)
	}
	c.JSON(http.StatusOK, out)
}

// Check decides entry from a multipart face_image and an optional
// plate_image. A plate image makes the check a vehicle entry.
func (h *AccessHandler) Check(c *gin.Context) {
	face, err := formImage(c, "face_image", h.maxUpload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if face == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "face_image file required"})
		return
	}
	plate, err := formImage(c, "plate_image", h.maxUpload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gate.Check(c.Request.Context(), gate.CheckRequest{FaceImage: face, PlateImage: plate})
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, gate.ErrPlateReaderUnavailable), errors.Is(err, gate.ErrFaceExtractorUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	h.reply(c, res)
}

// CheckEmbedding decides entry from a precomputed embedding and optional
// plate text.
func (h *AccessHandler) CheckEmbedding(c *gin.Context) {
	var req dto.EmbeddingCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gate.CheckEmbedding(c.Request.Context(), req.Embedding, req.Plate)
	if err != nil {
		if errors.Is(err, access.ErrDimensionMismatch) || errors.Is(err, access.ErrInvalidEmbedding) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.reply(c, res)
}

func plateResponse(read access.PlateRead, forwarded bool) dto.PlateReadResponse {
	resp := dto.PlateReadResponse{
		Plate:      read.Canonical,
		Display:    read.Display(),
		FormatType: string(read.Format),
		RawText:    read.Raw,
		Valid:      read.Valid,
		Corrected:  read.Corrected,
		Forwarded:  forwarded,
	}
	if !read.Valid {
		resp.Message = "text does not match a Brazilian plate format"
	}
	return resp
}

// ReadPlate runs OCR on a multipart "image" and normalizes the result.
func (h *AccessHandler) ReadPlate(c *gin.Context) {
	data, err := formImage(c, "image", h.maxUpload)
	if err != nil || data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}

	read, forwarded, err := h.gate.ReadPlate(c.Request.Context(), data)
	if err != nil {
		if errors.Is(err, gate.ErrPlateReaderUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plateResponse(read, forwarded))
}

// NormalizePlate normalizes plate text without OCR or forwarding.
func (h *AccessHandler) NormalizePlate(c *gin.Context) {
	var req dto.NormalizePlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	read, err := h.normalizer.Normalize(req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plateResponse(read, false))
}
