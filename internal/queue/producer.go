package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/guarda/internal/models"
)

const (
	AccessStreamName  = "ACCESS"
	AccessSubjectBase = "access"
	PlatesStreamName  = "PLATES"
	PlatesSubjectBase = "plates"
)

// DecisionSubject is the subject a decision is published on.
func DecisionSubject(flow, outcome string) string {
	return fmt.Sprintf("%s.%s.%s", AccessSubjectBase, flow, outcome)
}

// PlateSubject is the subject a normalized plate is published on.
func PlateSubject(format string) string {
	return fmt.Sprintf("%s.%s", PlatesSubjectBase, format)
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        AccessStreamName,
			Subjects:    []string{AccessSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Access decisions",
		},
		{
			Name:        PlatesStreamName,
			Subjects:    []string{PlatesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  2 * time.Minute,
			Description: "Normalized plates awaiting forwarding",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishDecision publishes an access decision for live consumers.
func (p *Producer) PublishDecision(ctx context.Context, flow, outcome string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	if _, err := p.js.Publish(ctx, DecisionSubject(flow, outcome), payload); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}

// PublishPlate queues a normalized plate for forwarding. The event id is
// used as the message id so retried publishes are deduplicated.
func (p *Producer) PublishPlate(ctx context.Context, ev models.PlateEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal plate event: %w", err)
	}

	_, err = p.js.Publish(ctx, PlateSubject(ev.FormatType), payload, jetstream.WithMsgID(ev.EventID.String()))
	if err != nil {
		return fmt.Errorf("publish plate: %w", err)
	}
	return nil
}

// PendingPlates returns the number of plates waiting in the PLATES stream.
func (p *Producer) PendingPlates(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, PlatesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
