package phase

import (
	"context"
	"time"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

// Event describes one lifecycle operation after it was evaluated. Advanced
// is false when the gate refused the move.
type Event struct {
	FeatureID string  `json:"feature_id"`
	From      Phase   `json:"from"`
	To        Phase   `json:"to"`
	Trigger   Trigger `json:"trigger"`
	Advanced  bool    `json:"advanced"`

	Validation *validation.Result       `json:"validation,omitempty"`
	Gate       *constitution.Gate       `json:"gate,omitempty"`
	Candidates []significance.Candidate `json:"candidates,omitempty"`

	At time.Time `json:"at"`
}

// Observer receives an event after every transition attempt. Observer
// errors are logged and never undo a transition.
type Observer interface {
	ObserveTransition(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event) error

// ObserveTransition calls f.
func (f ObserverFunc) ObserveTransition(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
