package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "thetavault"

// Publisher is the part of a NATS connection the publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url string, logger log.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("thetavaultd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// NATSPublisher publishes envelopes as JSON on <prefix>.<event name>.
type NATSPublisher struct {
	conn   Publisher
	prefix string
	logger log.Logger

	published atomic.Uint64
	failed    atomic.Uint64
	observe   func(ok bool)
}

func NewNATSPublisher(conn Publisher, prefix string, logger log.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = log.Root().New("module", "nats")
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// OnPublish registers fn to be told the outcome of every publish. It must
// be called before the publisher is subscribed.
func (p *NATSPublisher) OnPublish(fn func(ok bool)) {
	p.observe = fn
}

func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + "." + name
}

func (p *NATSPublisher) Deliver(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.failed.Add(1)
		p.report(false)
		p.logger.Error("Failed to encode envelope", "event", env.Name, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(env.Name), data); err != nil {
		p.failed.Add(1)
		p.report(false)
		p.logger.Warn("Failed to publish event", "event", env.Name, "id", env.ID, "error", err)
		return
	}
	p.published.Add(1)
	p.report(true)
}

func (p *NATSPublisher) report(ok bool) {
	if p.observe != nil {
		p.observe(ok)
	}
}

// Stats returns how many envelopes were published and how many failed.
func (p *NATSPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
