package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

type fakeMsg struct {
	jetstream.Msg
	delivered uint64
	settled   string
	delay     time.Duration
}

func (m *fakeMsg) Subject() string { return "plates.legacy" }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func (m *fakeMsg) Ack() error {
	m.settled = "ack"
	return nil
}

func (m *fakeMsg) Term() error {
	m.settled = "term"
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.settled = "nak"
	m.delay = d
	return nil
}

func TestSettle(t *testing.T) {
	boom := errors.New("endpoint down")

	tests := []struct {
		name      string
		err       error
		delivered uint64
		want      string
	}{
		{"success", nil, 1, "ack"},
		{"retryable", boom, 1, "nak"},
		{"permanent", Permanent(boom), 1, "term"},
		{"exhausted", boom, 5, "term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMsg{delivered: tt.delivered}
			settle(msg, tt.err, 5)
			assert.Equal(t, tt.want, msg.settled)
			if tt.want == "nak" {
				assert.Equal(t, retryDelay(tt.delivered), msg.delay)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 8*time.Second, retryDelay(4))
	assert.Equal(t, time.Minute, retryDelay(100))
}

func TestPermanentWraps(t *testing.T) {
	boom := errors.New("bad payload")
	err := Permanent(boom)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, boom)
}
