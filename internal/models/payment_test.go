package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentSelectionWire(t *testing.T) {
	for _, sel := range []PaymentSelection{CardWith3DS{SavedCardID: "card_1"}, WalletRedirect{}, HostedRedirect{}} {
		wire := WireSelection(sel)
		require.NotNil(t, wire)
		assert.Equal(t, sel.Route(), wire.Route)

		back, err := wire.Selection()
		require.NoError(t, err)
		assert.Equal(t, sel, back)
	}
	assert.Nil(t, WireSelection(nil))
}

func TestPaymentSelectionWire_UnknownRoute(t *testing.T) {
	var wire PaymentSelectionWire
	require.NoError(t, json.Unmarshal([]byte(`{"route":"cash"}`), &wire))

	_, err := wire.Selection()
	assert.ErrorIs(t, err, ErrUnknownRoute)
}

func TestErrorResponse_FirstMessage(t *testing.T) {
	assert.Equal(t, "top", ErrorResponse{Message: "top"}.FirstMessage())
	assert.Equal(t, "detail", ErrorResponse{
		Message: "top",
		Errors:  []ErrorDetail{{Code: "x"}, {Code: "y", Message: "detail"}},
	}.FirstMessage())
	assert.Empty(t, ErrorResponse{}.FirstMessage())
}
