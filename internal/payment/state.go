package payment

import "errors"

// State is the orchestrator state of one payment attempt
type State string

const (
	StateIdle                   State = "IDLE"
	StateSubmitting             State = "SUBMITTING"
	StateAwaitingCardChallenge  State = "AWAITING_CARD_CHALLENGE"
	StateAwaitingWalletRedirect State = "AWAITING_WALLET_REDIRECT"
	StateAwaitingHostedRedirect State = "AWAITING_HOSTED_REDIRECT"
	StateSucceeded              State = "SUCCEEDED"
	StateFailed                 State = "FAILED"
)

var (
	ErrIllegalTransition = errors.New("illegal transition of payment state")
	ErrAttemptFinished   = errors.New("payment attempt already finished")
	ErrAttemptNotFound   = errors.New("payment attempt not found")
)

var transitions = map[State][]State{
	StateIdle: {StateSubmitting},
	StateSubmitting: {
		StateAwaitingCardChallenge,
		StateAwaitingWalletRedirect,
		StateAwaitingHostedRedirect,
		StateSucceeded,
		StateFailed,
	},
	StateAwaitingCardChallenge:  {StateSucceeded, StateFailed},
	StateAwaitingWalletRedirect: {StateSucceeded, StateFailed},
	StateAwaitingHostedRedirect: {StateSucceeded, StateFailed},
}

// CanTransitionTo reports whether from -> to is in the transition table.
// Terminal states have no outgoing edges.
func CanTransitionTo(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsAwaiting reports whether the shopper is away on an external surface
func (s State) IsAwaiting() bool {
	return s == StateAwaitingCardChallenge || s == StateAwaitingWalletRedirect || s == StateAwaitingHostedRedirect
}

// String representation (for logging)
func (s State) String() string {
	return string(s)
}
