package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/events"
)

type fakeConn struct {
	msgs     []*nats.Msg
	failWith error
	flushed  int
	closed   bool
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) FlushWithContext(context.Context) error {
	c.flushed++
	return nil
}

func (c *fakeConn) Close() {
	c.closed = true
}

func testResult() *anomaly.Result {
	return &anomaly.Result{Rows: []anomaly.Detection{
		{
			Event: events.Event{
				Timestamp:     time.Date(2024, 1, 1, 23, 30, 0, 0, time.FixedZone("", 5*3600)),
				SourceIP:      "10.0.0.1",
				DestinationIP: "8.8.8.8",
				DeviceID:      "fw-1",
			},
			IsAnomaly:    true,
			AnomalyScore: -0.7,
			Confidence:   95,
			Severity:     anomaly.SeverityCritical,
		},
		{
			Event:      events.Event{SourceIP: "10.0.0.2"},
			Confidence: 10,
			Severity:   anomaly.SeverityLow,
		},
		{
			Event:        events.Event{SourceIP: "10.0.0.3"},
			IsAnomaly:    true,
			AnomalyScore: -0.6,
			Confidence:   70,
			Severity:     anomaly.SeverityMedium,
		},
	}}
}

func TestNewAlerts(t *testing.T) {
	alerts := NewAlerts(testResult())
	require.Len(t, alerts, 2)

	assert.Equal(t, "10.0.0.1", alerts[0].SourceIP)
	assert.Equal(t, "fw-1", alerts[0].DeviceID)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, anomaly.Name, alerts[0].Model)
	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
	assert.Equal(t, "medium", alerts[1].Severity)

	assert.Equal(t, "2024-01-01T23:30:00+05:00", alerts[0].Timestamp)
	raw, err := json.Marshal(alerts[1])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"timestamp"`)

	assert.Empty(t, NewAlerts(&anomaly.Result{}))
}

func TestNATSPublisherPublish(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, WithSubject("alerts.test"))

	require.NoError(t, p.Publish(context.Background(), testResult()))
	require.Len(t, conn.msgs, 2)
	assert.Equal(t, 1, conn.flushed)

	msg := conn.msgs[0]
	assert.Equal(t, "alerts.test", msg.Subject)
	assert.Equal(t, "critical", msg.Header.Get(SeverityHeader))

	var a Alert
	require.NoError(t, json.Unmarshal(msg.Data, &a))
	assert.Equal(t, "10.0.0.1", a.SourceIP)
	assert.InDelta(t, 95, a.Confidence, 1e-9)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestNATSPublisherNoAnomalies(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn)

	require.NoError(t, p.Publish(context.Background(), &anomaly.Result{}))
	assert.Empty(t, conn.msgs)
	assert.Zero(t, conn.flushed)
	assert.Equal(t, DefaultSubject, p.Subject())
}

func TestNATSPublisherError(t *testing.T) {
	boom := errors.New("connection closed")
	p := newNATSPublisher(&fakeConn{failWith: boom})

	err := p.Publish(context.Background(), testResult())
	assert.ErrorIs(t, err, boom)
}
