// Package alert publishes detected anomalies to downstream consumers.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/events"
)

// DefaultSubject is the NATS subject anomalies are published on.
const DefaultSubject = "netguard.anomalies"

// SeverityHeader carries the alert severity so subscribers can filter
// without decoding the payload.
const SeverityHeader = "x-severity"

const flushTimeout = 5 * time.Second

// Publisher sends the anomalies of a detection result somewhere.
type Publisher interface {
	Publish(ctx context.Context, result *anomaly.Result) error
	Close() error
}

// Alert is the message published for one anomalous event.
type Alert struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	DetectedAt    time.Time `json:"detected_at"`
	Timestamp     string    `json:"timestamp,omitempty"`
	SourceIP      string    `json:"source_ip,omitempty"`
	DestinationIP string    `json:"destination_ip,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	Location      string    `json:"location,omitempty"`
	AnomalyScore  float64   `json:"anomaly_score"`
	Confidence    float64   `json:"confidence"`
	Severity      string    `json:"severity"`
}

// NewAlerts builds one Alert per anomalous row of result.
func NewAlerts(result *anomaly.Result) []Alert {
	now := time.Now().UTC()

	var alerts []Alert
	for _, d := range result.Anomalies() {
		alerts = append(alerts, Alert{
			ID:            uuid.NewString(),
			Model:         anomaly.Name,
			DetectedAt:    now,
			Timestamp:     events.FormatTime(d.Timestamp),
			SourceIP:      d.SourceIP,
			DestinationIP: d.DestinationIP,
			DeviceID:      d.DeviceID,
			Location:      d.Location,
			AnomalyScore:  d.AnomalyScore,
			Confidence:    d.Confidence,
			Severity:      string(d.Severity),
		})
	}
	return alerts
}

// msgPublisher is the subset of *nats.Conn used by NATSPublisher.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes alerts to a NATS subject.
type NATSPublisher struct {
	conn    msgPublisher
	subject string
	logger  *zap.Logger
}

// Option configures a NATSPublisher.
type Option func(*NATSPublisher)

// WithSubject overrides DefaultSubject.
func WithSubject(subject string) Option {
	return func(p *NATSPublisher) {
		if subject != "" {
			p.subject = subject
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *NATSPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, opts ...Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("netguard"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return newNATSPublisher(nc, opts...), nil
}

func newNATSPublisher(conn msgPublisher, opts ...Option) *NATSPublisher {
	p := &NATSPublisher{
		conn:    conn,
		subject: DefaultSubject,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subject returns the subject alerts are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Publish sends one message per anomalous row and flushes the connection.
func (p *NATSPublisher) Publish(ctx context.Context, result *anomaly.Result) error {
	alerts := NewAlerts(result)
	if len(alerts) == 0 {
		return nil
	}

	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}

		msg := nats.NewMsg(p.subject)
		msg.Header.Set(SeverityHeader, a.Severity)
		msg.Data = data

		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish alert %s: %w", a.ID, err)
		}
	}

	// FlushWithContext rejects contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush alerts: %w", err)
	}

	p.logger.Info("published anomaly alerts",
		zap.String("subject", p.subject),
		zap.Int("count", len(alerts)))

	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
