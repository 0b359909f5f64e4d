package ingest

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/pkg/natsutil"
)

// Notifier is told about every published index.
type Notifier interface {
	IndexRebuilt(ctx context.Context, report domain.RunReport) error
}

// NATSNotifier publishes run reports on natsutil.SubjectIndexRebuilt.
type NATSNotifier struct {
	nc *nats.Conn
}

// NewNATSNotifier creates a NATSNotifier.
func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

func (n *NATSNotifier) IndexRebuilt(ctx context.Context, report domain.RunReport) error {
	return natsutil.Publish(ctx, n.nc, natsutil.SubjectIndexRebuilt, report)
}

// Request asks a running ingester for a rebuild.
type Request struct {
	ID        string    `json:"id"`
	FromCache bool      `json:"from_cache,omitempty"`
	At        time.Time `json:"at"`
}

// RequestRun publishes a Request on natsutil.SubjectIngestRequest.
func RequestRun(ctx context.Context, nc *nats.Conn, req Request) error {
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	return natsutil.Publish(ctx, nc, natsutil.SubjectIngestRequest, req)
}
