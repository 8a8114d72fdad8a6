package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

// memStore is an in-memory stand-in for the Postgres store.
type memStore struct {
	mu       sync.Mutex
	persons  map[uuid.UUID]*models.Person
	faces    []models.FaceEmbedding
	vehicles map[uuid.UUID]*models.Vehicle
	authz    map[uuid.UUID]*models.Authorization
	events   []models.AccessEvent
	dim      int
}

func newMemStore() *memStore {
	return &memStore{
		persons:  map[uuid.UUID]*models.Person{},
		vehicles: map[uuid.UUID]*models.Vehicle{},
		authz:    map[uuid.UUID]*models.Authorization{},
		dim:      4,
	}
}

func (s *memStore) CreatePerson(_ context.Context, name string, document *string) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if document != nil {
		for _, p := range s.persons {
			if p.Document != nil && *p.Document == *document {
				return nil, storage.ErrDuplicateDocument
			}
		}
	}
	p := &models.Person{ID: uuid.New(), Name: name, Document: document, IsActive: true, CreatedAt: time.Now()}
	s.persons[p.ID] = p
	return p, nil
}

func (s *memStore) GetPerson(_ context.Context, id uuid.UUID) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persons[id], nil
}

func (s *memStore) ListPersons(_ context.Context, activeOnly bool) ([]models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Person
	for _, p := range s.persons {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) SetPersonActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.IsActive = active
	return nil
}

func (s *memStore) CountFaces(_ context.Context, personID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.faces {
		if f.PersonID == personID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) AddFaces(_ context.Context, personID uuid.UUID, faces []models.FaceEmbedding, replace bool) ([]models.FaceEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range faces {
		if len(f.Embedding) != s.dim {
			return nil, access.ErrDimensionMismatch
		}
	}
	if _, ok := s.persons[personID]; !ok {
		return nil, storage.ErrNotFound
	}
	if replace {
		kept := s.faces[:0]
		for _, f := range s.faces {
			if f.PersonID != personID {
				kept = append(kept, f)
			}
		}
		s.faces = kept
	}
	var stored []models.FaceEmbedding
	for _, f := range faces {
		f.ID = uuid.New()
		f.PersonID = personID
		f.CreatedAt = time.Now()
		s.faces = append(s.faces, f)
		stored = append(stored, f)
	}
	return stored, nil
}

func (s *memStore) ListFaces(_ context.Context, personID uuid.UUID) ([]models.FaceEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FaceEmbedding
	for _, f := range s.faces {
		if f.PersonID == personID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memStore) DeleteFace(_ context.Context, personID, faceID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faces {
		if f.ID == faceID && f.PersonID == personID {
			s.faces = append(s.faces[:i], s.faces[i+1:]...)
			return f.SourceKey, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *memStore) CreateVehicle(_ context.Context, plate string, format access.PlateFormat, description *string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vehicles {
		if v.Plate == plate {
			return nil, storage.ErrDuplicatePlate
		}
	}
	v := &models.Vehicle{ID: uuid.New(), Plate: plate, Format: string(format), Description: description, IsActive: true, CreatedAt: time.Now()}
	s.vehicles[v.ID] = v
	return v, nil
}

func (s *memStore) GetVehicle(_ context.Context, id uuid.UUID) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vehicles[id], nil
}

func (s *memStore) GetVehicleByPlate(_ context.Context, plate string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vehicles {
		if v.Plate == plate {
			return v, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListVehicles(_ context.Context, activeOnly bool) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vehicle
	for _, v := range s.vehicles {
		if activeOnly && !v.IsActive {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *memStore) SetVehicleActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return storage.ErrNotFound
	}
	v.IsActive = active
	return nil
}

func (s *memStore) CreateAuthorization(_ context.Context, personID uuid.UUID, vehicleID *uuid.UUID) (*models.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[personID]; !ok {
		return nil, storage.ErrNotFound
	}
	if vehicleID != nil {
		if _, ok := s.vehicles[*vehicleID]; !ok {
			return nil, storage.ErrNotFound
		}
	}
	for _, a := range s.authz {
		if a.IsActive && a.PersonID == personID && sameVehicle(a.VehicleID, vehicleID) {
			return nil, storage.ErrDuplicateAuthorization
		}
	}
	a := &models.Authorization{ID: uuid.New(), PersonID: personID, VehicleID: vehicleID, IsActive: true, CreatedAt: time.Now()}
	s.authz[a.ID] = a
	return a, nil
}

func sameVehicle(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *memStore) GetAuthorization(_ context.Context, id uuid.UUID) (*models.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authz[id]
	if !ok {
		return nil, nil
	}
	out := *a
	if a.VehicleID != nil {
		out.VehiclePlate = s.vehicles[*a.VehicleID].Plate
	}
	return &out, nil
}

func (s *memStore) ListAuthorizations(_ context.Context, f storage.AuthorizationFilter) ([]models.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Authorization
	for _, a := range s.authz {
		if !f.IncludeInactive && !a.IsActive {
			continue
		}
		if f.PersonID != nil && a.PersonID != *f.PersonID {
			continue
		}
		if f.VehicleID != nil && !sameVehicle(a.VehicleID, f.VehicleID) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *memStore) DeactivateAuthorization(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authz[id]
	if !ok || !a.IsActive {
		return storage.ErrNotFound
	}
	a.IsActive = false
	return nil
}

func (s *memStore) QueryEvents(_ context.Context, f storage.EventFilter) ([]models.AccessEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AccessEvent
	for _, ev := range s.events {
		if f.Outcome != "" && ev.Outcome != f.Outcome {
			continue
		}
		if f.Flow != "" && ev.Flow != f.Flow {
			continue
		}
		if f.PersonID != nil && (ev.PersonID == nil || *ev.PersonID != *f.PersonID) {
			continue
		}
		out = append(out, ev)
	}
	return out, len(out), nil
}

type memObjects struct {
	mu      sync.Mutex
	keys    []string
	deleted []string
}

func (o *memObjects) DeleteObject(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, key)
	return nil
}

func (o *memObjects) PutObject(_ context.Context, key string, _ []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keys = append(o.keys, key)
	return nil
}

func (o *memObjects) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.local/" + key + "?sig=x", nil
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bumps
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// doMultipart posts files keyed by form field.
func doMultipart(t *testing.T, r http.Handler, path string, files map[string][][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, contents := range files {
		for i, data := range contents {
			fw, err := mw.CreateFormFile(field, field+"_"+string(rune('a'+i))+".jpg")
			require.NoError(t, err)
			_, err = fw.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}
