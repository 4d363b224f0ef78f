package payment

import "errors"

const (
	msgTryAgain        = "We couldn't confirm your payment. Please try again."
	msgCardDeclined    = "Your card was declined."
	msgRedirectFailed  = "We couldn't start the payment. Please try again."
	msgCancelled       = "Payment was cancelled."
	msgCheckoutChanged = "Your order changed during payment. Please review it and check out again."
)

// ProviderError is a terminal payment failure with a shopper-facing message
type ProviderError struct {
	OrderID string
	Message string
}

func (e *ProviderError) Error() string {
	return "payment failed: " + e.Message
}

// providerMessage prefers the structured message a collaborator returned
func providerMessage(err error, fallback string) string {
	var structured interface{ Message() string }
	if errors.As(err, &structured) {
		if msg := structured.Message(); msg != "" {
			return msg
		}
	}
	return fallback
}
