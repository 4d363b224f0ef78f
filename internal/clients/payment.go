package clients

import (
	"context"
	"time"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/patterns"
	"github.com/go-resty/resty/v2"
)

// PaymentClient reaches the payment provider
type PaymentClient struct {
	caller
	challengeTimeout time.Duration
}

func NewPaymentClient(baseURL string, timeout, challengeTimeout time.Duration, bulkheadSize int) *PaymentClient {
	if challengeTimeout <= 0 {
		challengeTimeout = patterns.SlowServiceTimeout
	}
	return &PaymentClient{
		caller:           newCaller(baseURL, "Payment", "checkout-service", timeout, bulkheadSize),
		challengeTimeout: challengeTimeout,
	}
}

func (p *PaymentClient) CreateCardConfirmation(ctx context.Context, req models.CardConfirmationRequest) (*models.CardConfirmationResponse, error) {
	var out models.CardConfirmationResponse
	err := p.call(ctx, "create card confirmation", p.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/payment/confirmations")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmCardChallenge asks for the payment status after the step-up challenge
func (p *PaymentClient) ConfirmCardChallenge(ctx context.Context, clientSecret string) (*models.ChallengeResponse, error) {
	var out models.ChallengeResponse
	err := p.call(ctx, "confirm card challenge", p.challengeTimeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(models.ChallengeRequest{ClientSecret: clientSecret}).Post("/payment/confirmations/challenge")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *PaymentClient) CreateWalletRedirectConfirmation(ctx context.Context, req models.WalletRedirectRequest) (*models.WalletRedirectResponse, error) {
	var out models.WalletRedirectResponse
	err := p.call(ctx, "create wallet redirect", p.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/payment/wallet-redirects")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *PaymentClient) CreateHostedRedirect(ctx context.Context, req models.HostedRedirectRequest) (*models.HostedRedirectResponse, error) {
	var out models.HostedRedirectResponse
	err := p.call(ctx, "create hosted redirect", p.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/payment/hosted-redirects")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHostedPaymentStatus reads the processor's outcome for a hosted authorization
func (p *PaymentClient) GetHostedPaymentStatus(ctx context.Context, orderID string) (*models.HostedPaymentStatus, error) {
	var out models.HostedPaymentStatus
	err := p.call(ctx, "get hosted payment status", p.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("orderId", orderID).Get("/payment/hosted-redirects/{orderId}")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
