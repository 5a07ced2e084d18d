// Package events publishes feature lifecycle events to NATS subjects so
// other tools can follow gates and phase changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/significance"
)

// DefaultPrefix roots every subject.
const DefaultPrefix = "semgate"

// Subject suffixes.
const (
	SubjectGatePassed  = "gate.passed"
	SubjectGateBlocked = "gate.blocked"
	SubjectPhase       = "phase"
)

// Publisher sends one message to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Message is the JSON body of every event.
type Message struct {
	FeatureID string        `json:"feature_id"`
	From      phase.Phase   `json:"from,omitempty"`
	To        phase.Phase   `json:"to"`
	Trigger   phase.Trigger `json:"trigger"`
	Advanced  bool          `json:"advanced"`

	// Gate fields are set only when a gate was evaluated.
	Gate            string   `json:"gate,omitempty"`
	GatePassed      *bool    `json:"gate_passed,omitempty"`
	MissingSections []string `json:"missing_sections,omitempty"`
	BlockingRules   []string `json:"blocking_rules,omitempty"`
	AdvisoryRules   []string `json:"advisory_rules,omitempty"`

	Candidates int `json:"candidates,omitempty"`
	Pending    int `json:"pending,omitempty"`
	Possible   int `json:"possible,omitempty"`

	At time.Time `json:"at"`
}

// NewMessage summarizes a transition event.
func NewMessage(ev phase.Event) Message {
	m := Message{
		FeatureID: ev.FeatureID,
		From:      ev.From,
		To:        ev.To,
		Trigger:   ev.Trigger,
		Advanced:  ev.Advanced,
		At:        ev.At,
	}
	if ev.Validation != nil || ev.Gate != nil {
		passed := true
		if ev.Validation != nil {
			m.MissingSections = ev.Validation.Missing()
			passed = ev.Validation.Passed
		}
		if ev.Gate != nil {
			m.Gate = ev.Gate.Name
			for _, o := range ev.Gate.Failures() {
				if o.Blocking() {
					m.BlockingRules = append(m.BlockingRules, o.RuleID)
				} else {
					m.AdvisoryRules = append(m.AdvisoryRules, o.RuleID)
				}
			}
			passed = passed && ev.Gate.Passed()
		}
		m.GatePassed = &passed
	}
	m.Candidates = len(ev.Candidates)
	for _, c := range ev.Candidates {
		if c.Verdict == significance.VerdictCreateRecord {
			m.Pending++
		}
		if c.Tier == significance.TierPossible {
			m.Possible++
		}
	}
	return m
}

// Emitter publishes transition events. It implements phase.Observer.
type Emitter struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

var _ phase.Observer = (*Emitter)(nil)

// NewEmitter creates an emitter. An empty prefix uses DefaultPrefix.
func NewEmitter(pub Publisher, prefix string, logger *slog.Logger) *Emitter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subjects returns the subjects an event is published on: the gate outcome
// when a gate ran, then the new phase when the feature moved.
func (e *Emitter) Subjects(ev phase.Event) []string {
	var subjects []string
	if ev.Gate != nil || ev.Validation != nil {
		if ev.Advanced {
			subjects = append(subjects, e.prefix+"."+SubjectGatePassed)
		} else {
			subjects = append(subjects, e.prefix+"."+SubjectGateBlocked)
		}
	}
	if ev.Advanced {
		subjects = append(subjects, e.prefix+"."+SubjectPhase+"."+string(ev.To))
	}
	return subjects
}

// ObserveTransition publishes ev on each of its subjects.
func (e *Emitter) ObserveTransition(ctx context.Context, ev phase.Event) error {
	subjects := e.Subjects(ev)
	if len(subjects) == 0 {
		return nil
	}
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	for _, subject := range subjects {
		if err := e.pub.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		e.logger.Debug("Published event", "subject", subject, "feature", ev.FeatureID)
	}
	return nil
}

// NATSPublisher publishes on a core NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	owned  bool
	closed bool
	mu     sync.Mutex
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, name string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, owned: true}, nil
}

// NewNATSPublisher wraps an existing connection. Close leaves it open.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Conn returns the underlying connection.
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.nc
}

// Publish sends data on subject. NATS publish does not take a context, so
// the context is checked first.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	return p.nc.Publish(subject, data)
}

// Close drains and closes a connection opened by Connect.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.owned || p.closed {
		return nil
	}
	p.closed = true
	return p.nc.Drain()
}
