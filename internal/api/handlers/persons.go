package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/gate"
	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/internal/vision"
	"github.com/your-org/guarda/pkg/dto"
)

type PersonStore interface {
	CreatePerson(ctx context.Context, name string, document *string) (*models.Person, error)
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	ListPersons(ctx context.Context, activeOnly bool) ([]models.Person, error)
	SetPersonActive(ctx context.Context, id uuid.UUID, active bool) error
	CountFaces(ctx context.Context, personID uuid.UUID) (int, error)
	AddFaces(ctx context.Context, personID uuid.UUID, faces []models.FaceEmbedding, replace bool) ([]models.FaceEmbedding, error)
	ListFaces(ctx context.Context, personID uuid.UUID) ([]models.FaceEmbedding, error)
	DeleteFace(ctx context.Context, personID, faceID uuid.UUID) (string, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type FaceExtractor interface {
	Extract(ctx context.Context, img []byte) ([]float32, float32, error)
}

// Identifier matches a face photo against the enrollment snapshot.
type Identifier interface {
	Identify(ctx context.Context, img []byte) (access.MatchResult, error)
}

type PersonHandler struct {
	db        PersonStore
	objects   ObjectStore
	extractor FaceExtractor
	identify  Identifier
	cache     Invalidator
	maxUpload int64
}

func NewPersonHandler(db PersonStore, objects ObjectStore, extractor FaceExtractor, identify Identifier, cache Invalidator, maxUpload int64) *PersonHandler {
	return &PersonHandler{db: db, objects: objects, extractor: extractor, identify: identify, cache: cache, maxUpload: maxUpload}
}

func personResponse(p *models.Person, faces int) dto.PersonResponse {
	return dto.PersonResponse{
		ID:        p.ID,
		Name:      p.Name,
		Document:  p.Document,
		IsActive:  p.IsActive,
		FaceCount: faces,
		CreatedAt: p.CreatedAt.Format(timeLayout),
	}
}

func faceResponse(f models.FaceEmbedding) dto.FaceEmbeddingResponse {
	return dto.FaceEmbeddingResponse{
		ID:        f.ID,
		PersonID:  f.PersonID,
		Quality:   f.Quality,
		SourceKey: f.SourceKey,
		CreatedAt: f.CreatedAt.Format(timeLayout),
	}
}

func (h *PersonHandler) Create(c *gin.Context) {
	var req dto.CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.CreatePerson(c.Request.Context(), req.Name, req.Document)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateDocument) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	c.JSON(http.StatusCreated, personResponse(person, 0))
}

func (h *PersonHandler) List(c *gin.Context) {
	persons, err := h.db.ListPersons(c.Request.Context(), queryBool(c, "active", false))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PersonResponse, 0, len(persons))
	for i := range persons {
		faceCount, _ := h.db.CountFaces(c.Request.Context(), persons[i].ID)
		resp = append(resp, personResponse(&persons[i], faceCount))
	}

	c.JSON(http.StatusOK, gin.H{"persons": resp, "total": len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "person")
	if !ok {
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	faceCount, _ := h.db.CountFaces(c.Request.Context(), id)
	c.JSON(http.StatusOK, personResponse(person, faceCount))
}

// Update toggles whether a person is active. Inactive persons drop out of
// the matching snapshot.
func (h *PersonHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "person")
	if !ok {
		return
	}

	var req dto.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetPersonActive(c.Request.Context(), id, *req.IsActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}

// AddFaces accepts one or more multipart "image" uploads, extracts an
// embedding from each and stores them. With ?replace=true the person's
// existing faces are replaced atomically.
func (h *PersonHandler) AddFaces(c *gin.Context) {
	personID, ok := parseID(c, "id", "person")
	if !ok {
		return
	}
	replace := queryBool(c, "replace", false)

	person, err := h.db.GetPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["image"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}

	if h.extractor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face extractor not initialized"})
		return
	}

	faces := make([]models.FaceEmbedding, 0, len(form.File["image"]))
	for _, fh := range form.File["image"] {
		data, err := readFile(fh, h.maxUpload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		embedding, quality, err := h.extractor.Extract(c.Request.Context(), data)
		if err != nil {
			switch {
			case errors.Is(err, vision.ErrInvalidImage):
				c.JSON(http.StatusBadRequest, gin.H{"error": fh.Filename + ": " + err.Error()})
			case errors.Is(err, vision.ErrNoFaceDetected):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fh.Filename + ": " + err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to extract face: " + err.Error()})
			}
			return
		}

		key := storage.FaceKey(personID)
		if err := h.objects.PutObject(c.Request.Context(), key, data, fh.Header.Get("Content-Type")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
			return
		}

		faces = append(faces, models.FaceEmbedding{
			PersonID:  personID,
			Embedding: embedding,
			Quality:   quality,
			SourceKey: key,
		})
	}

	stored, err := h.db.AddFaces(c.Request.Context(), personID, faces, replace)
	if err != nil {
		keys := make([]string, 0, len(faces))
		for _, f := range faces {
			keys = append(keys, f.SourceKey)
		}
		h.removeObjects(c.Request.Context(), keys...)

		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		case errors.Is(err, access.ErrDimensionMismatch), errors.Is(err, access.ErrInvalidEmbedding):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	invalidate(c.Request.Context(), h.cache)

	resp := dto.AddFacesResponse{PersonID: personID, Replaced: replace, Faces: make([]dto.FaceEmbeddingResponse, 0, len(stored))}
	for _, f := range stored {
		resp.Faces = append(resp.Faces, faceResponse(f))
	}
	c.JSON(http.StatusCreated, resp)
}

// removeObjects deletes photos that no embedding references any more.
// Failures only leave orphaned objects behind.
func (h *PersonHandler) removeObjects(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := h.objects.DeleteObject(ctx, key); err != nil {
			slog.Warn("delete face photo", "key", key, "error", err)
		}
	}
}

func (h *PersonHandler) DeleteFace(c *gin.Context) {
	personID, ok := parseID(c, "id", "person")
	if !ok {
		return
	}
	faceID, ok := parseID(c, "faceId", "face")
	if !ok {
		return
	}

	key, err := h.db.DeleteFace(c.Request.Context(), personID, faceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	invalidate(c.Request.Context(), h.cache)
	if key != "" {
		h.removeObjects(c.Request.Context(), key)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *PersonHandler) ListFaces(c *gin.Context) {
	personID, ok := parseID(c, "id", "person")
	if !ok {
		return
	}

	faces, err := h.db.ListFaces(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.FaceEmbeddingResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, faceResponse(f))
	}

	c.JSON(http.StatusOK, gin.H{"faces": resp, "total": len(resp)})
}

// Verify reports which enrolled person a face photo matches.
func (h *PersonHandler) Verify(c *gin.Context) {
	data, err := formImage(c, "image", h.maxUpload)
	if err != nil || data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}

	match, err := h.identify.Identify(c.Request.Context(), data)
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, vision.ErrNoFaceDetected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, gate.ErrFaceExtractorUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	resp := dto.VerifyFaceResponse{
		Matched:    match.IsMatch,
		PersonID:   match.PersonID,
		Ambiguous:  match.Ambiguous,
		Candidates: match.Candidates,
	}
	if match.HasCandidate() {
		dist := match.Distance
		resp.Distance = &dist
	}
	if match.PersonID != nil {
		if p, err := h.db.GetPerson(c.Request.Context(), *match.PersonID); err == nil && p != nil {
			resp.PersonName = p.Name
		}
	}
	c.JSON(http.StatusOK, resp)
}
