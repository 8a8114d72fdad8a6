package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/config"
	"github.com/your-org/guarda/internal/models"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicatePlate         = errors.New("plate already registered")
	ErrDuplicateAuthorization = errors.New("active authorization already exists")
	ErrDuplicateDocument      = errors.New("document already registered")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresStore connects to Postgres. embeddingDim is the number of
// components every stored face embedding must have.
func NewPostgresStore(cfg config.DatabaseConfig, embeddingDim int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dim: embeddingDim}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, name string, document *string) (*models.Person, error) {
	p := &models.Person{
		ID:       uuid.New(),
		Name:     name,
		Document: document,
		IsActive: true,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, name, document, is_active) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Document, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrDuplicateDocument
		}
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, document, is_active, created_at, updated_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Document, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context, activeOnly bool) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, document, is_active, created_at, updated_at FROM persons
		 WHERE is_active OR NOT $1 ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Document, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

// SetPersonActive toggles a person. Inactive persons drop out of the
// enrollment snapshot but keep their history.
func (s *PostgresStore) SetPersonActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET is_active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Face Embeddings ---

func (s *PostgresStore) CountFaces(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_embeddings WHERE person_id = $1`, personID,
	).Scan(&count)
	return count, err
}

// AddFaces stores new embeddings for a person. With replace set, the person's
// existing embeddings are removed in the same transaction.
func (s *PostgresStore) AddFaces(ctx context.Context, personID uuid.UUID, faces []models.FaceEmbedding, replace bool) ([]models.FaceEmbedding, error) {
	for _, fe := range faces {
		if len(fe.Embedding) != s.dim {
			return nil, fmt.Errorf("add face: %w: got %d components, want %d",
				access.ErrDimensionMismatch, len(fe.Embedding), s.dim)
		}
		if !access.Finite(fe.Embedding) {
			return nil, fmt.Errorf("add face: %w", access.ErrInvalidEmbedding)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add faces: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if replace {
		if _, err := tx.Exec(ctx, `DELETE FROM face_embeddings WHERE person_id = $1`, personID); err != nil {
			return nil, fmt.Errorf("clear face embeddings: %w", err)
		}
	}

	stored := make([]models.FaceEmbedding, 0, len(faces))
	for _, fe := range faces {
		fe.ID = uuid.New()
		fe.PersonID = personID
		err := tx.QueryRow(ctx,
			`INSERT INTO face_embeddings (id, person_id, embedding, quality, source_key) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
			fe.ID, fe.PersonID, pgvector.NewVector(fe.Embedding), fe.Quality, fe.SourceKey,
		).Scan(&fe.CreatedAt)
		if err != nil {
			if foreignKeyViolation(err) {
				return nil, fmt.Errorf("add face: person %s: %w", personID, ErrNotFound)
			}
			return nil, fmt.Errorf("add face embedding: %w", err)
		}
		stored = append(stored, fe)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add faces: %w", err)
	}
	return stored, nil
}

// DeleteFace removes one embedding and returns the key of its source photo.
func (s *PostgresStore) DeleteFace(ctx context.Context, personID, faceID uuid.UUID) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM face_embeddings WHERE id = $1 AND person_id = $2 RETURNING source_key`,
		faceID, personID,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete face embedding: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) ListFaces(ctx context.Context, personID uuid.UUID) ([]models.FaceEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, quality, source_key, created_at FROM face_embeddings WHERE person_id = $1 ORDER BY created_at, id`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("list face embeddings: %w", err)
	}
	defer rows.Close()

	var faces []models.FaceEmbedding
	for rows.Next() {
		var fe models.FaceEmbedding
		if err := rows.Scan(&fe.ID, &fe.PersonID, &fe.Quality, &fe.SourceKey, &fe.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face embedding: %w", err)
		}
		faces = append(faces, fe)
	}
	return faces, rows.Err()
}

// --- Vehicles ---

// CreateVehicle stores a vehicle. plate must already be canonical.
func (s *PostgresStore) CreateVehicle(ctx context.Context, plate string, format access.PlateFormat, description *string) (*models.Vehicle, error) {
	v := &models.Vehicle{
		ID:          uuid.New(),
		Plate:       plate,
		Format:      string(format),
		Description: description,
		IsActive:    true,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO vehicles (id, plate, format, description, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		v.ID, v.Plate, v.Format, v.Description, v.IsActive,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrDuplicatePlate
		}
		return nil, fmt.Errorf("create vehicle: %w", err)
	}
	return v, nil
}

const vehicleColumns = `id, plate, format, description, is_active, created_at, updated_at`

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	v := &models.Vehicle{}
	err := row.Scan(&v.ID, &v.Plate, &v.Format, &v.Description, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE plate = $1`, plate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vehicle by plate: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVehicles(ctx context.Context, activeOnly bool) ([]models.Vehicle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE is_active OR NOT $1 ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

func (s *PostgresStore) SetVehicleActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET is_active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Authorizations ---

// CreateAuthorization grants a person walk-in access, or vehicle access when
// vehicleID is set.
func (s *PostgresStore) CreateAuthorization(ctx context.Context, personID uuid.UUID, vehicleID *uuid.UUID) (*models.Authorization, error) {
	a := &models.Authorization{
		ID:        uuid.New(),
		PersonID:  personID,
		VehicleID: vehicleID,
		IsActive:  true,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO authorizations (id, person_id, vehicle_id, is_active) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		a.ID, a.PersonID, a.VehicleID, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrDuplicateAuthorization
		}
		if foreignKeyViolation(err) {
			return nil, fmt.Errorf("create authorization: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("create authorization: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAuthorization(ctx context.Context, id uuid.UUID) (*models.Authorization, error) {
	a := &models.Authorization{}
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, a.person_id, a.vehicle_id, a.is_active, a.created_at, a.updated_at, COALESCE(v.plate, '')
		 FROM authorizations a LEFT JOIN vehicles v ON v.id = a.vehicle_id WHERE a.id = $1`, id,
	).Scan(&a.ID, &a.PersonID, &a.VehicleID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.VehiclePlate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	return a, nil
}

// AuthorizationFilter narrows ListAuthorizations. Zero values match all.
type AuthorizationFilter struct {
	PersonID        *uuid.UUID
	VehicleID       *uuid.UUID
	IncludeInactive bool
}

func (s *PostgresStore) ListAuthorizations(ctx context.Context, f AuthorizationFilter) ([]models.Authorization, error) {
	where := "WHERE ($1 OR a.is_active)"
	args := []interface{}{f.IncludeInactive}
	if f.PersonID != nil {
		args = append(args, *f.PersonID)
		where += fmt.Sprintf(" AND a.person_id = $%d", len(args))
	}
	if f.VehicleID != nil {
		args = append(args, *f.VehicleID)
		where += fmt.Sprintf(" AND a.vehicle_id = $%d", len(args))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.person_id, a.vehicle_id, a.is_active, a.created_at, a.updated_at, COALESCE(v.plate, '')
		 FROM authorizations a LEFT JOIN vehicles v ON v.id = a.vehicle_id `+where+`
		 ORDER BY a.created_at, a.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	return collectAuthorizations(rows)
}

// DeactivateAuthorization soft-deletes an authorization.
func (s *PostgresStore) DeactivateAuthorization(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorizations SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("deactivate authorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAuthorizations(rows pgx.Rows) ([]models.Authorization, error) {
	defer rows.Close()

	var out []models.Authorization
	for rows.Next() {
		var a models.Authorization
		if err := rows.Scan(&a.ID, &a.PersonID, &a.VehicleID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.VehiclePlate); err != nil {
			return nil, fmt.Errorf("scan authorization: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Snapshots ---

// LoadEnrollment returns every embedding of every active person, ordered by
// person enrollment time so exact distance ties resolve deterministically.
func (s *PostgresStore) LoadEnrollment(ctx context.Context) ([]models.FaceEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fe.id, fe.person_id, fe.embedding, fe.quality, fe.source_key, fe.created_at
		 FROM face_embeddings fe
		 JOIN persons p ON p.id = fe.person_id
		 WHERE p.is_active
		 ORDER BY p.created_at, p.id, fe.created_at, fe.id`)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	defer rows.Close()

	var faces []models.FaceEmbedding
	for rows.Next() {
		var fe models.FaceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&fe.ID, &fe.PersonID, &vec, &fe.Quality, &fe.SourceKey, &fe.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		fe.Embedding = vec.Slice()
		faces = append(faces, fe)
	}
	return faces, rows.Err()
}

// LoadGrants returns the active authorizations of active persons. Vehicle
// authorizations are included only while the vehicle is active, with the
// vehicle plate filled in.
func (s *PostgresStore) LoadGrants(ctx context.Context) ([]models.Authorization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.person_id, a.vehicle_id, a.is_active, a.created_at, a.updated_at, COALESCE(v.plate, '')
		 FROM authorizations a
		 JOIN persons p ON p.id = a.person_id AND p.is_active
		 LEFT JOIN vehicles v ON v.id = a.vehicle_id
		 WHERE a.is_active AND (a.vehicle_id IS NULL OR v.is_active)
		 ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return collectAuthorizations(rows)
}

// --- Access events ---

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *models.AccessEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_events (id, flow, outcome, reason, person_id, authorization_id, plate, plate_format, raw_plate_text, distance, face_key, plate_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.ID, ev.Flow, ev.Outcome, ev.Reason, ev.PersonID, ev.AuthorizationID,
		ev.Plate, ev.PlateFormat, ev.RawPlateText, ev.Distance, ev.FaceKey, ev.PlateKey, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record access event: %w", err)
	}
	return nil
}

// EventFilter narrows QueryEvents. Nil fields match all.
type EventFilter struct {
	From     *time.Time
	To       *time.Time
	PersonID *uuid.UUID
	Plate    string
	Outcome  string
	Flow     string
	Limit    int
	Offset   int
}

func (s *PostgresStore) QueryEvents(ctx context.Context, f EventFilter) ([]models.AccessEvent, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	baseWhere := "WHERE TRUE"
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		baseWhere += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.PersonID != nil {
		add("person_id = $%d", *f.PersonID)
	}
	if f.Plate != "" {
		add("plate = $%d", f.Plate)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if f.Flow != "" {
		add("flow = $%d", f.Flow)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM access_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, flow, outcome, reason, person_id, authorization_id, plate, plate_format, raw_plate_text, distance, face_key, plate_key, created_at
		 FROM access_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		baseWhere, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var ev models.AccessEvent
		if err := rows.Scan(&ev.ID, &ev.Flow, &ev.Outcome, &ev.Reason, &ev.PersonID, &ev.AuthorizationID,
			&ev.Plate, &ev.PlateFormat, &ev.RawPlateText, &ev.Distance, &ev.FaceKey, &ev.PlateKey, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
