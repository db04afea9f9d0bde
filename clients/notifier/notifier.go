package notifier

import (
	"time"
)

// RotationOutcome is the final state of a rotation as reported to channels.
type RotationOutcome string

const (
	OutcomeDone    RotationOutcome = "done"
	OutcomeFailed  RotationOutcome = "failed"
	OutcomeSkipped RotationOutcome = "skipped"
)

// RotationAlert describes a completed or failed position rotation.
type RotationAlert struct {
	BotName    string
	RotationID string
	CycleID    string

	// Position tags, empty when no position was held
	From string
	To   string

	Outcome RotationOutcome
	Orders  int
	Sold    string // shares, decimal string
	Spent   string // USD, decimal string

	ErrorKind string
	Error     string
	Reason    string // why a rotation was skipped

	Duration  time.Duration
	Timestamp time.Time
}

// RedemptionAlert describes an on-chain redemption of a resolved market.
type RedemptionAlert struct {
	BotName     string
	ConditionID string
	MarketSlug  string
	NegRisk     bool
	TxHash      string
	Error       string
	Timestamp   time.Time
}

// Notifier is the interface for sending bot alerts to various channels.
type Notifier interface {
	// SendRotationAlert reports the outcome of a rotation.
	SendRotationAlert(alert RotationAlert)

	// SendRedemptionAlert reports a redemption attempt.
	SendRedemptionAlert(alert RedemptionAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendRotationAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendRotationAlert(alert RotationAlert) {
	for _, n := range m.notifiers {
		n.SendRotationAlert(alert)
	}
}

// SendRedemptionAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendRedemptionAlert(alert RedemptionAlert) {
	for _, n := range m.notifiers {
		n.SendRedemptionAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// Title returns a short headline for the alert.
func (a RotationAlert) Title() string {
	switch a.Outcome {
	case OutcomeDone:
		return "🔄 Position Rotated"
	case OutcomeSkipped:
		return "⏭️ Rotation Skipped"
	default:
		return "⚠️ Rotation Failed"
	}
}

// DisplayTag renders an empty tag as "none".
func DisplayTag(tag string) string {
	if tag == "" {
		return "none"
	}
	return tag
}
