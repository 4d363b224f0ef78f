// Package payment drives a placed order through one of the payment
// completion protocols to a terminal state.
package payment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// lockStripes is the number of mutexes order ids are hashed onto
const lockStripes = 256

// ReturnParams is what the wallet or hosted page appends to the return URL.
// Outcomes always come from the provider; Message is only a fallback.
type ReturnParams struct {
	Status  string
	Message string
}

// Orchestrator is the payment state machine. One request is outstanding per
// attempt at any time; attempts for different orders run independently.
type Orchestrator struct {
	provider      Provider
	store         AttemptStore
	returnBaseURL string
	now           func() time.Time

	locks [lockStripes]sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewOrchestrator(provider Provider, store AttemptStore, returnBaseURL string) *Orchestrator {
	return &Orchestrator{
		provider:      provider,
		store:         store,
		returnBaseURL: strings.TrimRight(returnBaseURL, "/"),
		now:           time.Now,
		subscribers:   make(map[string]map[int]chan Event),
	}
}

func (o *Orchestrator) lockFor(orderID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return &o.locks[h.Sum32()%lockStripes]
}

func (o *Orchestrator) lock(orderID string) func() {
	mu := o.lockFor(orderID)
	mu.Lock()
	return mu.Unlock
}

// Initiate starts the protocol for the submission's payment route. The
// returned event is the state reached when the call returns; a *ProviderError
// is returned alongside a Failed event.
func (o *Orchestrator) Initiate(ctx context.Context, sub *models.OrderSubmission) (Event, error) {
	if sub == nil || sub.OrderID == "" {
		return Event{}, errors.New("payment: submission without order id")
	}
	defer o.lock(sub.OrderID)()

	a, err := o.begin(ctx, sub)
	if err != nil {
		return a.event(), err
	}

	switch sel := sub.Payment.(type) {
	case models.CardWith3DS:
		return o.startCard(ctx, a, sel)
	case models.WalletRedirect:
		return o.startWallet(ctx, a)
	case models.HostedRedirect:
		return o.startHosted(ctx, a)
	default:
		return o.fail(ctx, a, "No payment method selected.")
	}
}

// Discard records a submission that must not be paid and fails it with the
// given message. The provider is not contacted.
func (o *Orchestrator) Discard(ctx context.Context, sub *models.OrderSubmission, message string) (Event, error) {
	if sub == nil || sub.OrderID == "" {
		return Event{}, errors.New("payment: submission without order id")
	}
	defer o.lock(sub.OrderID)()

	a, err := o.begin(ctx, sub)
	if err != nil {
		return a.event(), err
	}
	return o.fail(ctx, a, message)
}

// begin creates the attempt for a fresh submission and moves it to Submitting
func (o *Orchestrator) begin(ctx context.Context, sub *models.OrderSubmission) (*Attempt, error) {
	if existing, err := o.store.LoadAttempt(ctx, sub.OrderID); err == nil {
		// order ids are never reused across submissions
		return existing, fmt.Errorf("%w: order %s", ErrAttemptFinished, sub.OrderID)
	} else if !errors.Is(err, ErrAttemptNotFound) {
		return &Attempt{OrderID: sub.OrderID}, fmt.Errorf("failed to load attempt: %w", err)
	}

	now := o.now()
	a := &Attempt{
		ID:        uuid.New().String(),
		OrderID:   sub.OrderID,
		SessionID: sub.SessionID,
		Amount:    sub.Totals.Payable,
		Currency:  sub.Currency,
		State:     StateIdle,
		Revision:  sub.Revision,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sub.Payment != nil {
		a.Route = sub.Payment.Route()
	}
	if card, ok := sub.Payment.(models.CardWith3DS); ok {
		a.SavedCardID = card.SavedCardID
	}

	if err := o.transition(ctx, a, StateSubmitting); err != nil {
		return a, err
	}
	return a, nil
}

func (o *Orchestrator) startCard(ctx context.Context, a *Attempt, sel models.CardWith3DS) (Event, error) {
	resp, err := o.provider.CreateCardConfirmation(ctx, models.CardConfirmationRequest{
		OrderID:      a.OrderID,
		Amount:       a.Amount,
		Currency:     a.Currency,
		SavedCardRef: sel.SavedCardID,
	})
	if err != nil {
		log.WithFields(log.Fields{"order_id": a.OrderID, "route": a.Route}).Error("Card confirmation failed: ", err)
		return o.fail(ctx, a, providerMessage(err, msgTryAgain))
	}

	switch resp.Status {
	case models.StatusSucceeded:
		return o.succeed(ctx, a)
	case models.StatusRequiresAction:
		if resp.ClientSecret == "" {
			return o.fail(ctx, a, msgTryAgain)
		}
		a.ClientSecret = resp.ClientSecret
		return o.advance(ctx, a, StateAwaitingCardChallenge)
	case models.StatusDeclined, models.StatusFailed:
		return o.fail(ctx, a, orDefault(resp.Message, msgCardDeclined))
	default:
		return o.fail(ctx, a, msgTryAgain)
	}
}

func (o *Orchestrator) startWallet(ctx context.Context, a *Attempt) (Event, error) {
	intent, err := o.provider.CreateCardConfirmation(ctx, models.CardConfirmationRequest{
		OrderID:  a.OrderID,
		Amount:   a.Amount,
		Currency: a.Currency,
	})
	if err != nil || intent.ClientSecret == "" {
		log.WithFields(log.Fields{"order_id": a.OrderID, "route": a.Route}).Error("Wallet intent creation failed: ", err)
		return o.fail(ctx, a, providerMessage(err, msgRedirectFailed))
	}
	a.ClientSecret = intent.ClientSecret

	resp, err := o.provider.CreateWalletRedirectConfirmation(ctx, models.WalletRedirectRequest{
		ClientSecret: intent.ClientSecret,
		ReturnURL:    o.returnURL(a),
	})
	if err != nil || resp.RedirectURL == "" {
		log.WithFields(log.Fields{"order_id": a.OrderID, "route": a.Route}).Error("Wallet redirect creation failed: ", err)
		return o.fail(ctx, a, providerMessage(err, msgRedirectFailed))
	}
	a.RedirectURL = resp.RedirectURL
	return o.advance(ctx, a, StateAwaitingWalletRedirect)
}

func (o *Orchestrator) startHosted(ctx context.Context, a *Attempt) (Event, error) {
	resp, err := o.provider.CreateHostedRedirect(ctx, models.HostedRedirectRequest{
		OrderID:    a.OrderID,
		ReturnHost: o.returnBaseURL,
		Amount:     a.Amount,
		Currency:   a.Currency,
	})
	if err != nil || resp.AuthorizationURL == "" {
		log.WithFields(log.Fields{"order_id": a.OrderID, "route": a.Route}).Error("Hosted redirect creation failed: ", err)
		return o.fail(ctx, a, providerMessage(err, msgRedirectFailed))
	}
	a.RedirectURL = resp.AuthorizationURL
	return o.advance(ctx, a, StateAwaitingHostedRedirect)
}

// ResolveChallenge asks the provider for the outcome of a completed step-up
// challenge. Anything other than a clear success fails the attempt.
func (o *Orchestrator) ResolveChallenge(ctx context.Context, orderID string) (Event, error) {
	defer o.lock(orderID)()

	a, err := o.awaiting(ctx, orderID, StateAwaitingCardChallenge)
	if err != nil {
		return Event{}, err
	}
	if a.ProviderSucceeded {
		return o.succeed(ctx, a)
	}

	resp, err := o.provider.ConfirmCardChallenge(ctx, a.ClientSecret)
	if err != nil {
		log.WithFields(log.Fields{"order_id": orderID, "route": a.Route}).Error("Challenge confirmation failed: ", err)
		return o.fail(ctx, a, providerMessage(err, msgTryAgain))
	}

	switch resp.Status {
	case models.StatusSucceeded:
		return o.succeed(ctx, a)
	case models.StatusDeclined, models.StatusFailed, models.StatusCanceled:
		return o.fail(ctx, a, orDefault(resp.Message, msgCardDeclined))
	default:
		return o.fail(ctx, a, msgTryAgain)
	}
}

// CancelChallenge handles the shopper closing the challenge or leaving the
// redirect page. It is treated the same as a decline.
func (o *Orchestrator) CancelChallenge(ctx context.Context, orderID string) (Event, error) {
	return o.Abandon(ctx, orderID, msgCancelled)
}

// Abandon fails an attempt that is still waiting on the shopper. Attempts left
// in Submitting by a crashed process are abandoned too. An attempt the
// provider already reported as paid is finished as a success instead.
func (o *Orchestrator) Abandon(ctx context.Context, orderID, reason string) (Event, error) {
	defer o.lock(orderID)()

	a, err := o.awaiting(ctx, orderID, StateSubmitting, StateAwaitingCardChallenge, StateAwaitingWalletRedirect, StateAwaitingHostedRedirect)
	if err != nil {
		return Event{}, err
	}
	if a.ProviderSucceeded {
		log.WithField("order_id", orderID).Warn("Finishing paid attempt whose cleanup did not commit")
		return o.succeed(ctx, a)
	}
	return o.fail(ctx, a, reason)
}

// Invalidate fails a non-terminal attempt because the basket or payment route
// changed underneath it. Finished attempts are left alone.
func (o *Orchestrator) Invalidate(ctx context.Context, orderID string) (Event, error) {
	defer o.lock(orderID)()

	a, err := o.store.LoadAttempt(ctx, orderID)
	if err != nil {
		return Event{}, err
	}
	if a.State.IsTerminal() {
		return a.event(), nil
	}
	if a.ProviderSucceeded {
		// the charge went through; the order stands as placed
		return o.succeed(ctx, a)
	}
	ev, _ := o.fail(ctx, a, msgCheckoutChanged)
	return ev, nil
}

// ReconcileOnReturn finishes a redirect attempt when the shopper comes back
// through the return URL. It may run in a different process from Initiate;
// the order id is the only link between the two.
func (o *Orchestrator) ReconcileOnReturn(ctx context.Context, orderID string, params ReturnParams) (Event, error) {
	defer o.lock(orderID)()

	a, err := o.store.LoadAttempt(ctx, orderID)
	if err != nil {
		return Event{}, err
	}
	if a.State.IsTerminal() {
		// a reloaded return page sees the recorded outcome
		return a.event(), nil
	}
	if a.ProviderSucceeded {
		return o.succeed(ctx, a)
	}
	log.WithFields(log.Fields{
		"order_id":      orderID,
		"route":         a.Route,
		"return_status": params.Status,
	}).Info("Shopper returned from payment page")

	switch a.State {
	case StateAwaitingWalletRedirect:
		resp, err := o.provider.ConfirmCardChallenge(ctx, a.ClientSecret)
		if err != nil {
			return o.fail(ctx, a, providerMessage(err, msgTryAgain))
		}
		if resp.Status == models.StatusSucceeded {
			return o.succeed(ctx, a)
		}
		return o.fail(ctx, a, orDefault(resp.Message, orDefault(params.Message, msgTryAgain)))
	case StateAwaitingHostedRedirect:
		// the query string is caller input; only the processor decides
		resp, err := o.provider.GetHostedPaymentStatus(ctx, orderID)
		if err != nil {
			log.WithField("order_id", orderID).Warn("Hosted payment status unavailable: ", err)
			return a.event(), fmt.Errorf("failed to verify hosted payment: %w", err)
		}
		switch resp.Status {
		case models.StatusSucceeded:
			return o.succeed(ctx, a)
		case models.StatusDeclined, models.StatusFailed, models.StatusCanceled:
			return o.fail(ctx, a, orDefault(resp.Message, orDefault(params.Message, msgTryAgain)))
		default:
			// not settled yet; a reload or the sweeper finishes it
			return a.event(), nil
		}
	default:
		return a.event(), fmt.Errorf("%w: %s cannot be reconciled from a return URL", ErrIllegalTransition, a.State)
	}
}

// Get returns the current state of an attempt
func (o *Orchestrator) Get(ctx context.Context, orderID string) (Event, error) {
	a, err := o.store.LoadAttempt(ctx, orderID)
	if err != nil {
		return Event{}, err
	}
	return a.event(), nil
}

func (o *Orchestrator) awaiting(ctx context.Context, orderID string, allowed ...State) (*Attempt, error) {
	a, err := o.store.LoadAttempt(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if a.State.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrAttemptFinished, orderID, a.State)
	}
	for _, s := range allowed {
		if a.State == s {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: order %s is %s", ErrIllegalTransition, orderID, a.State)
}

func (o *Orchestrator) returnURL(a *Attempt) string {
	q := url.Values{}
	q.Set("order_id", a.OrderID)
	q.Set("route", string(a.Route))
	return o.returnBaseURL + "/checkout/return?" + q.Encode()
}

func (o *Orchestrator) transition(ctx context.Context, a *Attempt, to State) error {
	if !CanTransitionTo(a.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.State, to)
	}
	from := a.State
	a.State = to
	a.UpdatedAt = o.now()

	var err error
	if to == StateSucceeded {
		err = o.store.CommitSuccess(ctx, a)
	} else {
		err = o.store.SaveAttempt(ctx, a)
	}
	if err != nil {
		a.State = from
		return fmt.Errorf("failed to persist %s attempt: %w", to, err)
	}

	metrics.PaymentTransitions.WithLabelValues(string(a.Route), string(to)).Inc()
	log.WithFields(log.Fields{
		"order_id":   a.OrderID,
		"session_id": a.SessionID,
		"route":      a.Route,
		"from":       from.String(),
		"to":         to.String(),
	}).Info("Payment state changed")

	o.publish(a.event())
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, a *Attempt, to State) (Event, error) {
	if err := o.transition(ctx, a, to); err != nil {
		return a.event(), err
	}
	return a.event(), nil
}

// succeed records the provider's confirmation on the stored attempt before
// committing the cleanup, so a failed commit can be finished later.
func (o *Orchestrator) succeed(ctx context.Context, a *Attempt) (Event, error) {
	if !a.ProviderSucceeded {
		a.ProviderSucceeded = true
		if err := o.store.SaveAttempt(ctx, a); err != nil {
			log.WithField("order_id", a.OrderID).Error("Failed to record provider success: ", err)
		}
	}
	if err := o.transition(ctx, a, StateSucceeded); err != nil {
		log.WithField("order_id", a.OrderID).Error("Failed to record payment success: ", err)
		return a.event(), err
	}
	return a.event(), nil
}

func (o *Orchestrator) fail(ctx context.Context, a *Attempt, message string) (Event, error) {
	a.LastError = message
	if err := o.transition(ctx, a, StateFailed); err != nil {
		return a.event(), err
	}
	return a.event(), &ProviderError{OrderID: a.OrderID, Message: message}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
