package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentRoute names one of the payment completion protocols
type PaymentRoute string

const (
	RouteCard   PaymentRoute = "card_3ds"
	RouteWallet PaymentRoute = "wallet_redirect"
	RouteHosted PaymentRoute = "hosted_redirect"
)

var ErrUnknownRoute = errors.New("unknown payment route")

// PaymentSelection is one of CardWith3DS, WalletRedirect or HostedRedirect.
type PaymentSelection interface {
	Route() PaymentRoute
	isPaymentSelection()
}

// CardWith3DS charges a previously saved card, possibly with a step-up challenge
type CardWith3DS struct {
	SavedCardID string
}

// WalletRedirect confirms on a hosted wallet page
type WalletRedirect struct{}

// HostedRedirect authorizes on a redirect-style processor's page
type HostedRedirect struct{}

func (CardWith3DS) Route() PaymentRoute    { return RouteCard }
func (WalletRedirect) Route() PaymentRoute { return RouteWallet }
func (HostedRedirect) Route() PaymentRoute { return RouteHosted }

func (CardWith3DS) isPaymentSelection()    {}
func (WalletRedirect) isPaymentSelection() {}
func (HostedRedirect) isPaymentSelection() {}

// PaymentSelectionWire is the JSON form of a PaymentSelection
type PaymentSelectionWire struct {
	Route       PaymentRoute `json:"route" binding:"required"`
	SavedCardID string       `json:"saved_card_id,omitempty"`
}

// Selection decodes the wire form. A card route without a card is allowed
// here; the submitter reports it.
func (w PaymentSelectionWire) Selection() (PaymentSelection, error) {
	switch w.Route {
	case RouteCard:
		return CardWith3DS{SavedCardID: w.SavedCardID}, nil
	case RouteWallet:
		return WalletRedirect{}, nil
	case RouteHosted:
		return HostedRedirect{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, w.Route)
}

// WireSelection encodes a selection; nil encodes to nil.
func WireSelection(s PaymentSelection) *PaymentSelectionWire {
	switch v := s.(type) {
	case CardWith3DS:
		return &PaymentSelectionWire{Route: RouteCard, SavedCardID: v.SavedCardID}
	case WalletRedirect:
		return &PaymentSelectionWire{Route: RouteWallet}
	case HostedRedirect:
		return &PaymentSelectionWire{Route: RouteHosted}
	}
	return nil
}

// ConfirmationStatus is a provider's payment status
type ConfirmationStatus string

const (
	StatusSucceeded      ConfirmationStatus = "succeeded"
	StatusRequiresAction ConfirmationStatus = "requires_action"
	StatusProcessing     ConfirmationStatus = "processing"
	StatusDeclined       ConfirmationStatus = "declined"
	StatusFailed         ConfirmationStatus = "failed"
	StatusCanceled       ConfirmationStatus = "canceled"
)

// CardConfirmationRequest asks the provider to confirm a charge on a saved card
type CardConfirmationRequest struct {
	OrderID      string          `json:"order_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" binding:"required"`
	SavedCardRef string          `json:"saved_card_ref,omitempty"`
}

// CardConfirmationResponse represents the provider's answer to a confirmation
type CardConfirmationResponse struct {
	Status       ConfirmationStatus `json:"status"`
	ClientSecret string             `json:"client_secret,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// ChallengeRequest confirms the outcome of a step-up challenge
type ChallengeRequest struct {
	ClientSecret string `json:"client_secret" binding:"required"`
}

// ChallengeResponse is the post-challenge payment status
type ChallengeResponse struct {
	Status  ConfirmationStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}

// WalletRedirectRequest asks for a hosted wallet confirmation page
type WalletRedirectRequest struct {
	ClientSecret string `json:"client_secret" binding:"required"`
	ReturnURL    string `json:"return_url" binding:"required"`
}

// WalletRedirectResponse holds the page to hand browser control to
type WalletRedirectResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// HostedRedirectRequest asks a redirect-style processor for an authorization URL
type HostedRedirectRequest struct {
	OrderID    string          `json:"order_id" binding:"required"`
	ReturnHost string          `json:"return_host" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// HostedRedirectResponse holds the processor's authorization URL
type HostedRedirectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// HostedPaymentStatus is the processor's record of a hosted authorization
type HostedPaymentStatus struct {
	OrderID string             `json:"order_id"`
	Status  ConfirmationStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}
