package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// ErrPermanent marks a handler failure that redelivery cannot fix. Wrap it
// with Permanent and the message is terminated instead of naked.
var ErrPermanent = errors.New("permanent failure")

func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// retryDelay backs off linearly with the delivery count, capped at a minute.
func retryDelay(delivered uint64) time.Duration {
	d := time.Duration(delivered) * 2 * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// settle acks, naks or terminates msg according to the handler result.
func settle(msg jetstream.Msg, err error, maxDeliver int) {
	if err == nil {
		_ = msg.Ack()
		return
	}
	if errors.Is(err, ErrPermanent) {
		slog.Warn("dropping message", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	var delivered uint64 = 1
	if meta, mErr := msg.Metadata(); mErr == nil {
		delivered = meta.NumDelivered
	}
	if maxDeliver > 0 && delivered >= uint64(maxDeliver) {
		slog.Error("giving up on message", "subject", msg.Subject(), "deliveries", delivered, "error", err)
		_ = msg.Term()
		return
	}
	_ = msg.NakWithDelay(retryDelay(delivered))
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumePlates starts a durable pull consumer on the PLATES stream shared by
// every forwarder replica. workerCount goroutines process messages; a failed
// plate is redelivered with backoff until maxDeliver attempts are spent.
func (c *Consumer) ConsumePlates(ctx context.Context, consumerName string, handler MessageHandler, workerCount, maxDeliver int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, PlatesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", PlatesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    maxDeliver,
		MaxAckPending: workerCount * 4,
		FilterSubject: PlatesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for ctx.Err() == nil {
			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch plates error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
			if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
				slog.Warn("plate batch error", "error", err)
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				err := handler(ctx, msg)
				if err != nil {
					slog.Error("process plate error", "worker", workerID, "error", err, "subject", msg.Subject())
				}
				settle(msg, err, maxDeliver)
			}
		}(i)
	}

	slog.Info("plate consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeDecisions follows the ACCESS stream with an ordered consumer. Every
// API replica gets its own so each hub sees all decisions; only decisions
// published after start are delivered. The subscription stops with ctx.
func (c *Consumer) ConsumeDecisions(ctx context.Context, handler MessageHandler) error {
	cons, err := c.js.OrderedConsumer(ctx, AccessStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{AccessSubjectBase + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer on %s: %w", AccessStreamName, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg); err != nil {
			slog.Error("process decision error", "error", err, "subject", msg.Subject())
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", AccessStreamName, err)
	}
	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	slog.Info("decision consumer started", "stream", AccessStreamName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
