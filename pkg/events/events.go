// Package events turns committed vault events into envelopes and fans
// them out to subscribers: in-process recorders, NATS and the websocket
// feed.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/vault"
)

// Envelope is the wire form of a vault event.
type Envelope struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Round   uint16          `json:"round,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Wrap encodes ev stamped with now.
func Wrap(ev vault.Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      uuid.New(),
		Name:    ev.EventName(),
		Round:   RoundOf(ev),
		Time:    now.UTC(),
		Payload: payload,
	}, nil
}

// RoundOf returns the round an event belongs to, or 0 if it carries none.
func RoundOf(ev vault.Event) uint16 {
	switch e := ev.(type) {
	case vault.DepositEvent:
		return e.Round
	case vault.InitiateWithdrawEvent:
		return e.Round
	case vault.InstantWithdrawEvent:
		return e.Round
	case vault.RedeemEvent:
		return e.Round
	case vault.CollectVaultFeesEvent:
		return e.Round
	case vault.RoundClosedEvent:
		return e.Round
	default:
		return 0
	}
}

// Sink receives envelopes. Deliver must not block for long; it runs on the
// vault's commit path.
type Sink interface {
	Deliver(env Envelope)
}

// Fanout is a vault.EventSink that wraps every event once and hands it to
// each subscribed sink.
type Fanout struct {
	mu     sync.RWMutex
	clock  vault.Clock
	sinks  []Sink
	logger log.Logger
}

func NewFanout(clock vault.Clock, logger log.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = log.Root().New("module", "events")
	}
	return &Fanout{clock: clock, sinks: sinks, logger: logger}
}

func (f *Fanout) Subscribe(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Publish(ev vault.Event) {
	env, err := Wrap(ev, f.clock.Now())
	if err != nil {
		f.logger.Error("Failed to encode event", "event", ev.EventName(), "error", err)
		return
	}
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Deliver(env)
	}
}

// Recorder keeps every envelope it receives.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (r *Recorder) Deliver(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.envelopes))
	for i, env := range r.envelopes {
		names[i] = env.Name
	}
	return names
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = nil
}
