// Package gate runs access checks end to end: it extracts the probe from the
// captured images, asks the access core for a decision against the current
// snapshot, and then records, stores and publishes the outcome.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/cache"
	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/observability"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/internal/vision"
	"github.com/your-org/guarda/pkg/dto"
)

type FaceExtractor interface {
	Extract(ctx context.Context, img []byte) ([]float32, float32, error)
}

type PlateReader interface {
	ReadPlate(ctx context.Context, img []byte) (string, error)
}

type SnapshotSource interface {
	Get(ctx context.Context) (*cache.Snapshot, error)
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, ev *models.AccessEvent) error
}

type CaptureStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type Publisher interface {
	PublishDecision(ctx context.Context, flow, outcome string, data interface{}) error
	PublishPlate(ctx context.Context, ev models.PlateEvent) error
}

// Options toggles the side effects of a check.
type Options struct {
	StoreCaptures    bool
	PublishDecisions bool
	ForwardPlates    bool
}

// Deps are the collaborators of a Service. Plates, Captures and Publisher
// may be nil.
type Deps struct {
	Faces     FaceExtractor
	Plates    PlateReader
	Snapshots SnapshotSource
	Events    EventRecorder
	Captures  CaptureStore
	Publisher Publisher
}

type Service struct {
	core *access.Core
	deps Deps
	opts Options
	now  func() time.Time
}

func NewService(core *access.Core, deps Deps, opts Options) *Service {
	return &Service{core: core, deps: deps, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Core() *access.Core { return s.core }

var (
	// ErrPlateReaderUnavailable is returned when a plate image is submitted
	// but no OCR backend is configured.
	ErrPlateReaderUnavailable = errors.New("plate reader unavailable")
	// ErrFaceExtractorUnavailable is returned for image checks when the
	// vision models failed to load.
	ErrFaceExtractorUnavailable = errors.New("face extractor unavailable")
)

// CheckRequest carries the captured images. A non-empty PlateImage makes the
// check a vehicle entry.
type CheckRequest struct {
	FaceImage  []byte
	PlateImage []byte
}

// Result is a recorded decision.
type Result struct {
	Decision access.Decision
	Event    models.AccessEvent
}

// Check runs a walk-in or vehicle-entry check from images.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*Result, error) {
	if s.deps.Faces == nil {
		return nil, ErrFaceExtractorUnavailable
	}
	flow := access.FlowWalkin
	if len(req.PlateImage) > 0 {
		flow = access.FlowVehicle
		if s.deps.Plates == nil {
			return nil, ErrPlateReaderUnavailable
		}
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var (
		probe    []float32
		faceErr  error
		rawPlate string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		probe, _, faceErr = s.deps.Faces.Extract(gctx, req.FaceImage)
		observability.StageDuration.WithLabelValues("face").Observe(time.Since(start).Seconds())
		if faceErr != nil && !errors.Is(faceErr, vision.ErrNoFaceDetected) {
			return faceErr
		}
		return nil
	})
	if flow == access.FlowVehicle {
		g.Go(func() error {
			start := time.Now()
			text, err := s.deps.Plates.ReadPlate(gctx, req.PlateImage)
			observability.StageDuration.WithLabelValues("ocr").Observe(time.Since(start).Seconds())
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("plate ocr failed; treating as no plate", "error", err)
				return nil
			}
			rawPlate = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract capture: %w", err)
	}

	var d access.Decision
	switch {
	case faceErr != nil && flow == access.FlowVehicle:
		read := s.core.ReadPlate(rawPlate)
		d = access.Unrecognized(flow, &read)
	case faceErr != nil:
		d = access.Unrecognized(flow, nil)
	case flow == access.FlowVehicle:
		d, err = s.core.CheckVehicleEntry(probe, rawPlate, snap)
	default:
		d, err = s.core.CheckWalkin(probe, snap)
	}
	if err != nil {
		return nil, fmt.Errorf("decide access: %w", err)
	}

	return s.finish(ctx, d, req)
}

// CheckEmbedding runs a check with a caller-supplied probe. A non-nil plate
// makes it a vehicle entry with that text as the OCR reading.
func (s *Service) CheckEmbedding(ctx context.Context, probe []float32, plate *string) (*Result, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var d access.Decision
	if plate != nil {
		d, err = s.core.CheckVehicleEntry(probe, *plate, snap)
	} else {
		d, err = s.core.CheckWalkin(probe, snap)
	}
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, d, CheckRequest{})
}

// Identify matches a face photo against the enrollment without deciding
// access or recording anything.
func (s *Service) Identify(ctx context.Context, img []byte) (access.MatchResult, error) {
	if s.deps.Faces == nil {
		return access.MatchResult{}, ErrFaceExtractorUnavailable
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return access.MatchResult{}, err
	}
	probe, _, err := s.deps.Faces.Extract(ctx, img)
	if err != nil {
		return access.MatchResult{}, err
	}
	return s.core.Matcher().Match(probe, snap.Embeddings)
}

// ReadPlate reads and normalizes a standalone plate image, queueing valid
// plates for forwarding. It reports whether the plate was queued.
func (s *Service) ReadPlate(ctx context.Context, img []byte) (access.PlateRead, bool, error) {
	if s.deps.Plates == nil {
		return access.PlateRead{}, false, ErrPlateReaderUnavailable
	}
	text, err := s.deps.Plates.ReadPlate(ctx, img)
	if err != nil {
		return access.PlateRead{}, false, fmt.Errorf("read plate: %w", err)
	}
	read := s.core.ReadPlate(text)
	observePlate(read)
	return read, s.forwardPlate(ctx, read, uuid.New()), nil
}

func (s *Service) snapshot(ctx context.Context) (access.Snapshot, error) {
	snap, err := s.deps.Snapshots.Get(ctx)
	if err != nil {
		return access.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return access.Snapshot{
		Embeddings: snap.Embeddings,
		Grants:     access.GrantsFrom(snap.Authorizations),
	}, nil
}

func (s *Service) finish(ctx context.Context, d access.Decision, req CheckRequest) (*Result, error) {
	ev := EventFromDecision(d, uuid.New(), s.now())

	if d.Duplicates > 0 {
		observability.DuplicateGrants.Inc()
		slog.Warn("multiple active authorizations matched",
			"person_id", d.PersonID, "authorization_id", d.AuthorizationID,
			"flow", d.Flow, "plate", d.Plate, "extra", d.Duplicates)
	}

	if s.opts.StoreCaptures && s.deps.Captures != nil {
		ev.FaceKey = s.storeCapture(ctx, ev, storage.CaptureFace, req.FaceImage)
		ev.PlateKey = s.storeCapture(ctx, ev, storage.CapturePlate, req.PlateImage)
	}

	if err := s.deps.Events.RecordEvent(ctx, &ev); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}

	observability.AccessDecisions.WithLabelValues(string(d.Flow), string(d.Outcome), string(d.Reason)).Inc()
	if d.Match.HasCandidate() {
		observability.MatchDistance.Observe(d.Match.Distance)
	}
	if d.PlateRead != nil {
		observePlate(*d.PlateRead)
		s.forwardPlate(ctx, *d.PlateRead, ev.ID)
	}

	res := &Result{Decision: d, Event: ev}
	if s.opts.PublishDecisions && s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishDecision(ctx, ev.Flow, ev.Outcome, res.Response()); err != nil {
			slog.Warn("publish decision failed", "event_id", ev.ID, "error", err)
		}
	}

	slog.Info("access decision",
		"event_id", ev.ID, "flow", ev.Flow, "outcome", ev.Outcome, "reason", ev.Reason,
		"person_id", ev.PersonID, "plate", ev.Plate)
	return res, nil
}

func (s *Service) storeCapture(ctx context.Context, ev models.AccessEvent, kind string, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	key := storage.CaptureKey(ev.ID, ev.CreatedAt, kind)
	if err := s.deps.Captures.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		slog.Warn("store capture failed", "key", key, "error", err)
		return ""
	}
	return key
}

func (s *Service) forwardPlate(ctx context.Context, read access.PlateRead, eventID uuid.UUID) bool {
	if !s.opts.ForwardPlates || s.deps.Publisher == nil || !read.Valid {
		return false
	}
	err := s.deps.Publisher.PublishPlate(ctx, models.PlateEvent{
		Plate:      read.Canonical,
		FormatType: string(read.Format),
		RawText:    read.Raw,
		EventID:    eventID,
		Timestamp:  s.now(),
	})
	if err != nil {
		slog.Warn("queue plate for forwarding failed", "plate", read.Canonical, "error", err)
		return false
	}
	return true
}

func observePlate(read access.PlateRead) {
	observability.PlateReads.WithLabelValues(string(read.Format), strconv.FormatBool(read.Corrected)).Inc()
}

// EventFromDecision builds the audit record of a decision.
func EventFromDecision(d access.Decision, id uuid.UUID, at time.Time) models.AccessEvent {
	ev := models.AccessEvent{
		ID:              id,
		Flow:            string(d.Flow),
		Outcome:         string(d.Outcome),
		Reason:          string(d.Reason),
		PersonID:        d.PersonID,
		AuthorizationID: d.AuthorizationID,
		Plate:           d.Plate,
		CreatedAt:       at,
	}
	if d.PlateRead != nil {
		ev.PlateFormat = string(d.PlateRead.Format)
		ev.RawPlateText = d.PlateRead.Raw
	}
	if d.Match.HasCandidate() {
		dist := d.Match.Distance
		ev.Distance = &dist
	}
	return ev
}

// Response is the wire form of the result.
func (r *Result) Response() dto.AccessDecision {
	d, ev := r.Decision, r.Event
	out := dto.AccessDecision{
		EventID:         ev.ID,
		Flow:            ev.Flow,
		Outcome:         ev.Outcome,
		Granted:         d.Granted(),
		Reason:          ev.Reason,
		PersonID:        ev.PersonID,
		AuthorizationID: ev.AuthorizationID,
		Plate:           ev.Plate,
		PlateFormat:     ev.PlateFormat,
		RawPlateText:    ev.RawPlateText,
		Distance:        ev.Distance,
		Ambiguous:       d.Match.Ambiguous,
		Candidates:      d.Match.Candidates,
		FaceKey:         ev.FaceKey,
		PlateKey:        ev.PlateKey,
		Timestamp:       ev.CreatedAt.Format(time.RFC3339),
	}
	if d.PlateRead != nil {
		out.PlateCorrected = d.PlateRead.Corrected
	}
	return out
}
