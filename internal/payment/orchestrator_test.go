package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCardConfirmation(ctx context.Context, req models.CardConfirmationRequest) (*models.CardConfirmationResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*models.CardConfirmationResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ConfirmCardChallenge(ctx context.Context, clientSecret string) (*models.ChallengeResponse, error) {
	args := m.Called(ctx, clientSecret)
	if r := args.Get(0); r != nil {
		return r.(*models.ChallengeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreateWalletRedirectConfirmation(ctx context.Context, req models.WalletRedirectRequest) (*models.WalletRedirectResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*models.WalletRedirectResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreateHostedRedirect(ctx context.Context, req models.HostedRedirectRequest) (*models.HostedRedirectResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*models.HostedRedirectResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetHostedPaymentStatus(ctx context.Context, orderID string) (*models.HostedPaymentStatus, error) {
	args := m.Called(ctx, orderID)
	if r := args.Get(0); r != nil {
		return r.(*models.HostedPaymentStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

// flakyCommitStore fails the first n success commits
type flakyCommitStore struct {
	*memStore
	failures int
}

func (s *flakyCommitStore) CommitSuccess(ctx context.Context, a *Attempt) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("redis: transaction failed")
	}
	return s.memStore.CommitSuccess(ctx, a)
}

// memStore keeps attempts in memory and records success cleanups
type memStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	cleared  []string
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[string]Attempt)}
}

func (s *memStore) SaveAttempt(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.OrderID] = *a
	return nil
}

func (s *memStore) LoadAttempt(_ context.Context, orderID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[orderID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return &a, nil
}

func (s *memStore) CommitSuccess(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.OrderID] = *a
	s.cleared = append(s.cleared, a.SessionID)
	return nil
}

func (s *memStore) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleared)
}

type structuredErr struct {
	msg string
}

func (e structuredErr) Error() string   { return "provider returned status 422" }
func (e structuredErr) Message() string { return e.msg }

func submission(orderID string, sel models.PaymentSelection) *models.OrderSubmission {
	return &models.OrderSubmission{
		OrderID:   orderID,
		SessionID: "sess-" + orderID,
		Currency:  "GBP",
		Totals:    models.OrderTotals{Payable: decimal.RequireFromString("27.84")},
		Payment:   sel,
	}
}

func setup() (*Orchestrator, *mockProvider, *memStore) {
	provider := new(mockProvider)
	store := newMemStore()
	return NewOrchestrator(provider, store, "https://shop.example/"), provider, store
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(StateIdle, StateSubmitting))
	assert.True(t, CanTransitionTo(StateSubmitting, StateSucceeded))
	assert.True(t, CanTransitionTo(StateAwaitingCardChallenge, StateFailed))
	assert.False(t, CanTransitionTo(StateIdle, StateSucceeded))
	assert.False(t, CanTransitionTo(StateAwaitingHostedRedirect, StateAwaitingCardChallenge))

	all := []State{StateIdle, StateSubmitting, StateAwaitingCardChallenge, StateAwaitingWalletRedirect,
		StateAwaitingHostedRedirect, StateSucceeded, StateFailed}
	for _, to := range all {
		assert.False(t, CanTransitionTo(StateSucceeded, to), "succeeded -> %s", to)
		assert.False(t, CanTransitionTo(StateFailed, to), "failed -> %s", to)
	}
}

func TestInitiate_CardSucceedsWithoutChallenge(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.MatchedBy(func(r models.CardConfirmationRequest) bool {
		return r.OrderID == "ord-1" && r.SavedCardRef == "card_9" && r.Amount.Equal(decimal.RequireFromString("27.84"))
	})).Return(&models.CardConfirmationResponse{Status: models.StatusSucceeded}, nil).Once()

	ev, err := orch.Initiate(ctx, submission("ord-1", models.CardWith3DS{SavedCardID: "card_9"}))

	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, ev.State)
	assert.Equal(t, "/orders/ord-1/confirmation", ev.ConfirmationPath)
	assert.Equal(t, 1, store.clearedCount())
	provider.AssertExpectations(t)
}

func TestCardChallenge_Declined(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_1"}, nil).Once()
	provider.On("ConfirmCardChallenge", ctx, "cs_1").
		Return(&models.ChallengeResponse{Status: models.StatusDeclined, Message: "Your bank declined the authentication."}, nil).Once()

	ev, err := orch.Initiate(ctx, submission("ord-2", models.CardWith3DS{SavedCardID: "card_1"}))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCardChallenge, ev.State)
	assert.Equal(t, "cs_1", ev.ClientSecret)

	ev, err = orch.ResolveChallenge(ctx, "ord-2")

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "Your bank declined the authentication.", providerErr.Message)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, "Your bank declined the authentication.", ev.Message)
	assert.Equal(t, 0, store.clearedCount(), "basket must not be cleared on failure")
	provider.AssertExpectations(t)
}

func TestCardChallenge_Succeeded(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_2"}, nil).Once()
	provider.On("ConfirmCardChallenge", ctx, "cs_2").
		Return(&models.ChallengeResponse{Status: models.StatusSucceeded}, nil).Once()

	_, err := orch.Initiate(ctx, submission("ord-3", models.CardWith3DS{SavedCardID: "card_1"}))
	require.NoError(t, err)

	ev, err := orch.ResolveChallenge(ctx, "ord-3")

	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, ev.State)
	assert.Equal(t, 1, store.clearedCount())
}

func TestCardChallenge_AmbiguousStatusFails(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_3"}, nil).Once()
	provider.On("ConfirmCardChallenge", ctx, "cs_3").
		Return(&models.ChallengeResponse{Status: models.StatusProcessing}, nil).Once()

	_, err := orch.Initiate(ctx, submission("ord-4", models.CardWith3DS{SavedCardID: "card_1"}))
	require.NoError(t, err)

	ev, err := orch.ResolveChallenge(ctx, "ord-4")

	assert.Error(t, err)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, msgTryAgain, ev.Message)
	assert.Equal(t, 0, store.clearedCount())
}

func TestCancelChallenge_ThenNoFurtherTransitions(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_4"}, nil).Once()

	_, err := orch.Initiate(ctx, submission("ord-5", models.CardWith3DS{SavedCardID: "card_1"}))
	require.NoError(t, err)

	ev, err := orch.CancelChallenge(ctx, "ord-5")
	assert.Error(t, err)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, msgCancelled, ev.Message)

	_, err = orch.ResolveChallenge(ctx, "ord-5")
	assert.ErrorIs(t, err, ErrAttemptFinished)
	_, err = orch.CancelChallenge(ctx, "ord-5")
	assert.ErrorIs(t, err, ErrAttemptFinished)

	_, err = orch.Initiate(ctx, submission("ord-5", models.CardWith3DS{SavedCardID: "card_1"}))
	assert.ErrorIs(t, err, ErrAttemptFinished)

	got, err := orch.Get(ctx, "ord-5")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 0, store.clearedCount())
	provider.AssertNotCalled(t, "ConfirmCardChallenge", mock.Anything, mock.Anything)
}

func TestInitiate_CardConfirmationStructuredError(t *testing.T) {
	orch, provider, _ := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(nil, structuredErr{msg: "Card expired."}).Once()

	ev, err := orch.Initiate(ctx, submission("ord-6", models.CardWith3DS{SavedCardID: "card_1"}))

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "Card expired.", providerErr.Message)
	assert.Equal(t, StateFailed, ev.State)
}

func TestWalletRedirect(t *testing.T) {
	ctx := context.Background()

	t.Run("hands off to redirect and reconciles on return", func(t *testing.T) {
		orch, provider, store := setup()
		provider.On("CreateCardConfirmation", ctx, mock.MatchedBy(func(r models.CardConfirmationRequest) bool {
			return r.SavedCardRef == ""
		})).Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_w"}, nil).Once()
		provider.On("CreateWalletRedirectConfirmation", ctx, mock.MatchedBy(func(r models.WalletRedirectRequest) bool {
			return r.ClientSecret == "cs_w" &&
				r.ReturnURL == "https://shop.example/checkout/return?order_id=ord-w1&route=wallet_redirect"
		})).Return(&models.WalletRedirectResponse{RedirectURL: "https://wallet.example/pay/1"}, nil).Once()
		provider.On("ConfirmCardChallenge", ctx, "cs_w").
			Return(&models.ChallengeResponse{Status: models.StatusSucceeded}, nil).Once()

		ev, err := orch.Initiate(ctx, submission("ord-w1", models.WalletRedirect{}))
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingWalletRedirect, ev.State)
		assert.Equal(t, "https://wallet.example/pay/1", ev.RedirectURL)
		assert.Equal(t, 0, store.clearedCount())

		// the return flow builds a fresh orchestrator over the same store
		returned := NewOrchestrator(provider, store, "https://shop.example")
		ev, err = returned.ReconcileOnReturn(ctx, "ord-w1", ReturnParams{Status: "succeeded"})

		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, ev.State)
		assert.Equal(t, 1, store.clearedCount())
		provider.AssertExpectations(t)
	})

	t.Run("redirect creation failure", func(t *testing.T) {
		orch, provider, store := setup()
		provider.On("CreateCardConfirmation", ctx, mock.Anything).
			Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_w2"}, nil).Once()
		provider.On("CreateWalletRedirectConfirmation", ctx, mock.Anything).
			Return(nil, errors.New("connection reset")).Once()

		ev, err := orch.Initiate(ctx, submission("ord-w2", models.WalletRedirect{}))

		assert.Error(t, err)
		assert.Equal(t, StateFailed, ev.State)
		assert.Equal(t, msgRedirectFailed, ev.Message)
		assert.Equal(t, 0, store.clearedCount())
	})
}

func TestHostedRedirect(t *testing.T) {
	ctx := context.Background()

	t.Run("authorization url request throws", func(t *testing.T) {
		orch, provider, store := setup()
		provider.On("CreateHostedRedirect", ctx, mock.Anything).
			Return(nil, structuredErr{msg: "Merchant account not enabled for this currency"}).Once()

		ev, err := orch.Initiate(ctx, submission("ord-h1", models.HostedRedirect{}))

		var providerErr *ProviderError
		require.True(t, errors.As(err, &providerErr))
		assert.Equal(t, StateFailed, ev.State)
		assert.Equal(t, "Merchant account not enabled for this currency", ev.Message)
		assert.Equal(t, 0, store.clearedCount())
	})

	t.Run("unstructured failure uses generic message", func(t *testing.T) {
		orch, provider, _ := setup()
		provider.On("CreateHostedRedirect", ctx, mock.Anything).Return(nil, errors.New("timeout")).Once()

		ev, _ := orch.Initiate(ctx, submission("ord-h2", models.HostedRedirect{}))

		assert.Equal(t, msgRedirectFailed, ev.Message)
	})

	t.Run("success then return is idempotent", func(t *testing.T) {
		orch, provider, store := setup()
		provider.On("CreateHostedRedirect", ctx, mock.MatchedBy(func(r models.HostedRedirectRequest) bool {
			return r.OrderID == "ord-h3" && r.ReturnHost == "https://shop.example"
		})).Return(&models.HostedRedirectResponse{AuthorizationURL: "https://pay.example/auth/3"}, nil).Once()

		ev, err := orch.Initiate(ctx, submission("ord-h3", models.HostedRedirect{}))
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingHostedRedirect, ev.State)
		assert.Equal(t, "https://pay.example/auth/3", ev.RedirectURL)

		provider.On("GetHostedPaymentStatus", ctx, "ord-h3").
			Return(&models.HostedPaymentStatus{OrderID: "ord-h3", Status: models.StatusSucceeded}, nil).Once()

		ev, err = orch.ReconcileOnReturn(ctx, "ord-h3", ReturnParams{Status: "authorized"})
		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, ev.State)

		ev, err = orch.ReconcileOnReturn(ctx, "ord-h3", ReturnParams{Status: "failed"})
		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, ev.State)
		assert.Equal(t, 1, store.clearedCount(), "success cleanup runs exactly once")
	})

	t.Run("failed return", func(t *testing.T) {
		orch, provider, store := setup()
		provider.On("CreateHostedRedirect", ctx, mock.Anything).
			Return(&models.HostedRedirectResponse{AuthorizationURL: "https://pay.example/auth/4"}, nil).Once()

		_, err := orch.Initiate(ctx, submission("ord-h4", models.HostedRedirect{}))
		require.NoError(t, err)
		provider.On("GetHostedPaymentStatus", ctx, "ord-h4").
			Return(&models.HostedPaymentStatus{OrderID: "ord-h4", Status: models.StatusCanceled}, nil).Once()

		ev, err := orch.ReconcileOnReturn(ctx, "ord-h4", ReturnParams{Status: "cancelled", Message: "You cancelled the payment."})
		assert.Error(t, err)
		assert.Equal(t, StateFailed, ev.State)
		assert.Equal(t, "You cancelled the payment.", ev.Message)
		assert.Equal(t, 0, store.clearedCount())
	})
}

func TestHostedRedirect_ReturnStatusIsVerified(t *testing.T) {
	ctx := context.Background()
	start := func(t *testing.T, orderID string) (*Orchestrator, *mockProvider, *memStore) {
		orch, provider, store := setup()
		provider.On("CreateHostedRedirect", ctx, mock.Anything).
			Return(&models.HostedRedirectResponse{AuthorizationURL: "https://pay.example/auth/" + orderID}, nil).Once()
		_, err := orch.Initiate(ctx, submission(orderID, models.HostedRedirect{}))
		require.NoError(t, err)
		return orch, provider, store
	}

	t.Run("succeeded in the query string but still pending at the processor", func(t *testing.T) {
		orch, provider, store := start(t, "ord-f1")
		provider.On("GetHostedPaymentStatus", ctx, "ord-f1").
			Return(&models.HostedPaymentStatus{OrderID: "ord-f1", Status: models.StatusProcessing}, nil).Once()

		ev, err := orch.ReconcileOnReturn(ctx, "ord-f1", ReturnParams{Status: "succeeded"})

		require.NoError(t, err)
		assert.Equal(t, StateAwaitingHostedRedirect, ev.State)
		assert.Zero(t, store.clearedCount())
	})

	t.Run("succeeded in the query string but declined at the processor", func(t *testing.T) {
		orch, provider, store := start(t, "ord-f2")
		provider.On("GetHostedPaymentStatus", ctx, "ord-f2").
			Return(&models.HostedPaymentStatus{OrderID: "ord-f2", Status: models.StatusDeclined, Message: "Not authorized"}, nil).Once()

		ev, err := orch.ReconcileOnReturn(ctx, "ord-f2", ReturnParams{Status: "paid"})

		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, StateFailed, ev.State)
		assert.Equal(t, "Not authorized", ev.Message)
		assert.Zero(t, store.clearedCount())
	})

	t.Run("processor unreachable leaves the attempt open", func(t *testing.T) {
		orch, provider, store := start(t, "ord-f3")
		provider.On("GetHostedPaymentStatus", ctx, "ord-f3").Return(nil, errors.New("timeout")).Once()

		ev, err := orch.ReconcileOnReturn(ctx, "ord-f3", ReturnParams{Status: "succeeded"})

		assert.Error(t, err)
		assert.Equal(t, StateAwaitingHostedRedirect, ev.State)
		stored, err := store.LoadAttempt(ctx, "ord-f3")
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingHostedRedirect, stored.State)
		assert.Zero(t, store.clearedCount())
	})
}

func TestInvalidate(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()
	provider.On("CreateHostedRedirect", ctx, mock.Anything).
		Return(&models.HostedRedirectResponse{AuthorizationURL: "https://pay.example/auth/5"}, nil).Once()

	_, err := orch.Initiate(ctx, submission("ord-i1", models.HostedRedirect{}))
	require.NoError(t, err)

	ev, err := orch.Invalidate(ctx, "ord-i1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, msgCheckoutChanged, ev.Message)

	// a late return cannot resurrect the attempt
	ev, err = orch.ReconcileOnReturn(ctx, "ord-i1", ReturnParams{Status: "succeeded"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, 0, store.clearedCount())
}

func TestSubscribe(t *testing.T) {
	orch, provider, _ := setup()
	ctx := context.Background()
	provider.On("CreateCardConfirmation", ctx, mock.Anything).
		Return(&models.CardConfirmationResponse{Status: models.StatusRequiresAction, ClientSecret: "cs_s"}, nil).Once()

	events, unsubscribe := orch.Subscribe("ord-s1")
	defer unsubscribe()

	_, err := orch.Initiate(ctx, submission("ord-s1", models.CardWith3DS{SavedCardID: "card_1"}))
	require.NoError(t, err)

	first := <-events
	second := <-events
	assert.Equal(t, StateSubmitting, first.State)
	assert.Equal(t, StateAwaitingCardChallenge, second.State)

	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestDiscard_FailsWithoutContactingProvider(t *testing.T) {
	orch, provider, store := setup()
	ctx := context.Background()

	ev, err := orch.Discard(ctx, submission("ord-d1", models.HostedRedirect{}), "Your order changed.")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, "Your order changed.", ev.Message)
	assert.Zero(t, store.clearedCount())
	provider.AssertNotCalled(t, "CreateHostedRedirect", mock.Anything, mock.Anything)

	_, err = orch.Initiate(ctx, submission("ord-d1", models.HostedRedirect{}))
	assert.ErrorIs(t, err, ErrAttemptFinished)
}

func TestAbandon_StuckInSubmitting(t *testing.T) {
	orch, _, store := setup()
	ctx := context.Background()
	require.NoError(t, store.SaveAttempt(ctx, &Attempt{OrderID: "ord-s1", SessionID: "sess-s1", State: StateSubmitting}))

	ev, err := orch.Abandon(ctx, "ord-s1", "Payment was not completed in time.")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateFailed, ev.State)

	_, err = orch.Abandon(ctx, "ord-s1", "again")
	assert.ErrorIs(t, err, ErrAttemptFinished)
}

func TestSucceed_CommitFailureIsFinishedLater(t *testing.T) {
	ctx := context.Background()
	charged := func(t *testing.T, orderID string) (*Orchestrator, *mockProvider, *flakyCommitStore) {
		provider := new(mockProvider)
		store := &flakyCommitStore{memStore: newMemStore(), failures: 1}
		orch := NewOrchestrator(provider, store, "https://shop.example")
		provider.On("CreateCardConfirmation", ctx, mock.Anything).
			Return(&models.CardConfirmationResponse{Status: models.StatusSucceeded}, nil).Once()

		ev, err := orch.Initiate(ctx, submission(orderID, models.CardWith3DS{SavedCardID: "card_1"}))

		require.Error(t, err)
		var perr *ProviderError
		assert.False(t, errors.As(err, &perr))
		assert.Equal(t, StateSubmitting, ev.State)
		stored, err := store.LoadAttempt(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, StateSubmitting, stored.State)
		assert.True(t, stored.ProviderSucceeded)
		return orch, provider, store
	}

	t.Run("abandon finishes as succeeded", func(t *testing.T) {
		orch, _, store := charged(t, "ord-c1")

		ev, err := orch.Abandon(ctx, "ord-c1", "Payment was not completed in time.")

		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, ev.State)
		assert.Empty(t, ev.Message)
		assert.Equal(t, 1, store.clearedCount())

		_, err = orch.Abandon(ctx, "ord-c1", "again")
		assert.ErrorIs(t, err, ErrAttemptFinished)
	})

	t.Run("invalidate cannot fail a charged attempt", func(t *testing.T) {
		orch, _, store := charged(t, "ord-c2")

		ev, err := orch.Invalidate(ctx, "ord-c2")

		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, ev.State)
		assert.Equal(t, 1, store.clearedCount())
	})
}

func TestLockFor_FixedStripes(t *testing.T) {
	orch, _, _ := setup()
	seen := make(map[*sync.Mutex]struct{})
	for i := 0; i < 1000; i++ {
		seen[orch.lockFor(fmt.Sprintf("ord-%d", i))] = struct{}{}
	}

	assert.LessOrEqual(t, len(seen), lockStripes)
	assert.Same(t, orch.lockFor("ord-42"), orch.lockFor("ord-42"))
}
