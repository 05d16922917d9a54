package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/calmsignal/calmsignal/server/internal/store"
)

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Transition is the payload published when a subject changes state.
type Transition struct {
	SubjectID   string   `json:"subject_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	StressIndex *float64 `json:"stress_index"`
	At          string   `json:"at"` // RFC3339
}

// Connect dials NATS with unbounded reconnects.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("calmsignal-server"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("events: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("events: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// Notifier publishes a Transition on prefix.<subject_id> whenever an accepted
// reading changes a subject's state. Readings that leave the state unchanged
// publish nothing.
type Notifier struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

// NewNotifier creates a Notifier publishing under prefix.
func NewNotifier(pub Publisher, prefix string) *Notifier {
	return &Notifier{pub: pub, prefix: prefix, now: time.Now}
}

// Subject returns the NATS subject for a subject id.
func (n *Notifier) Subject(subjectID string) string {
	return n.prefix + "." + subjectID
}

// Observe publishes ch if it is a state transition. Failures are logged.
func (n *Notifier) Observe(_ context.Context, ch store.Change) {
	if !ch.StateChanged() {
		return
	}
	data, err := json.Marshal(Transition{
		SubjectID:   ch.Record.SubjectID,
		From:        string(ch.Previous),
		To:          string(ch.Record.State),
		StressIndex: ch.Record.StressIndex,
		At:          n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("events: encode transition", "err", err)
		return
	}
	if err := n.pub.Publish(n.Subject(ch.Record.SubjectID), data); err != nil {
		slog.Warn("events: publish failed", "subject", ch.Record.SubjectID, "err", err)
	}
}
