package payment

import (
	"context"
	"time"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

// Attempt is the orchestrator-owned record of one checkout attempt. It is
// persisted so the return-URL flow can pick it up by order id.
type Attempt struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"order_id"`
	SessionID    string              `json:"session_id"`
	Route        models.PaymentRoute `json:"route"`
	SavedCardID  string              `json:"saved_card_id,omitempty"`
	Amount       decimal.Decimal     `json:"amount"`
	Currency     string              `json:"currency"`
	State        State               `json:"state"`
	LastError    string              `json:"last_error,omitempty"`
	ClientSecret string              `json:"client_secret,omitempty"`
	RedirectURL  string              `json:"redirect_url,omitempty"`
	Revision     int64               `json:"revision"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`

	// ProviderSucceeded is set once the provider confirms the charge, ahead
	// of the success commit. Such an attempt can only finish as Succeeded.
	ProviderSucceeded bool `json:"provider_succeeded,omitempty"`
}

// AttemptStore persists attempts. CommitSuccess must write the succeeded
// attempt and clear the shopper's session in one atomic step.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a *Attempt) error
	LoadAttempt(ctx context.Context, orderID string) (*Attempt, error)
	CommitSuccess(ctx context.Context, a *Attempt) error
}

// Provider is the payment-provider collaborator
type Provider interface {
	CreateCardConfirmation(ctx context.Context, req models.CardConfirmationRequest) (*models.CardConfirmationResponse, error)
	ConfirmCardChallenge(ctx context.Context, clientSecret string) (*models.ChallengeResponse, error)
	CreateWalletRedirectConfirmation(ctx context.Context, req models.WalletRedirectRequest) (*models.WalletRedirectResponse, error)
	CreateHostedRedirect(ctx context.Context, req models.HostedRedirectRequest) (*models.HostedRedirectResponse, error)
	GetHostedPaymentStatus(ctx context.Context, orderID string) (*models.HostedPaymentStatus, error)
}

// Event is one observable state of an attempt
type Event struct {
	OrderID          string              `json:"order_id"`
	Route            models.PaymentRoute `json:"route"`
	State            State               `json:"state"`
	Message          string              `json:"message,omitempty"`
	ClientSecret     string              `json:"client_secret,omitempty"`
	RedirectURL      string              `json:"redirect_url,omitempty"`
	ConfirmationPath string              `json:"confirmation_path,omitempty"`
	At               time.Time           `json:"at"`
}

// ConfirmationPath is where a succeeded order's confirmation can be fetched
func ConfirmationPath(orderID string) string {
	return "/orders/" + orderID + "/confirmation"
}

func (a *Attempt) event() Event {
	e := Event{
		OrderID: a.OrderID,
		Route:   a.Route,
		State:   a.State,
		Message: a.LastError,
		At:      a.UpdatedAt,
	}
	switch a.State {
	case StateAwaitingCardChallenge:
		e.ClientSecret = a.ClientSecret
	case StateAwaitingWalletRedirect, StateAwaitingHostedRedirect:
		e.RedirectURL = a.RedirectURL
	case StateSucceeded:
		e.ConfirmationPath = ConfirmationPath(a.OrderID)
	}
	return e
}
