package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

// SubjectPrefix is prepended to the symbol to form the fill subject.
const SubjectPrefix = "arbiter.fills."

// Subject returns the NATS subject fills for symbol are published on.
func Subject(symbol string) string {
	return SubjectPrefix + symbol
}

// NATSPublisher publishes each fill as a JSON message. The Nats-Msg-Id
// header is derived from the fill, so a JetStream stream on the subjects
// drops a fill published twice within its duplicate window.
type NATSPublisher struct {
	conn *nats.Conn
	// Outbound sequence ids restart with the process; the run id keeps
	// fills of different runs apart.
	runID string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	log := telemetry.Component("nats")
	opts := []nats.Option{
		nats.Name("order-arbiter"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisherFromConn(conn), nil
}

// NewNATSPublisherFromConn wraps an existing connection. Close drains it.
func NewNATSPublisherFromConn(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn, runID: uuid.NewString()}
}

// MsgID is the dedup id for f: run, symbol and outbound sequence id.
func (p *NATSPublisher) MsgID(f domain.Fill) string {
	return fmt.Sprintf("%s-%s-%d", p.runID, f.Symbol, f.SequenceID)
}

func (p *NATSPublisher) Name() string { return "nats" }

// Publish sends one message per fill. It does not wait for the server.
func (p *NATSPublisher) Publish(ctx context.Context, fills []domain.Fill) error {
	for i := range fills {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(&fills[i])
		if err != nil {
			return fmt.Errorf("failed to marshal fill: %w", err)
		}
		msg := nats.NewMsg(Subject(fills[i].Symbol))
		msg.Header.Set(nats.MsgIdHdr, p.MsgID(fills[i]))
		msg.Data = data
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish fill: %w", err)
		}
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn.Close()
	return err
}
