package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ashendes/storefront-checkout/internal/coupon"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/go-resty/resty/v2"
)

// PlaceOrderError is a failed order placement. OrderID is set when the server
// reports that an order was created despite the failure.
type PlaceOrderError struct {
	StatusCode int
	Message    string
	OrderID    string
	Err        error
}

func (e *PlaceOrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("order placement failed: %s (order %s)", e.Message, e.OrderID)
	}
	return fmt.Sprintf("order placement failed: %s", e.Message)
}

func (e *PlaceOrderError) Unwrap() error {
	return e.Err
}

// Coordinates is a latitude/longitude pair
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// MerchantClient reaches the store, order placement, wallet and activity endpoints
type MerchantClient struct {
	caller
}

func NewMerchantClient(baseURL string, timeout time.Duration, bulkheadSize int) *MerchantClient {
	return &MerchantClient{caller: newCaller(baseURL, "Merchant", "checkout-service", timeout, bulkheadSize)}
}

func (m *MerchantClient) GetStore(ctx context.Context, storeID string) (*models.Store, error) {
	var store models.Store
	err := m.call(ctx, "get store", m.timeout, &store, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("storeId", storeID).Get("/stores/{storeId}")
	})
	if err != nil {
		return nil, err
	}
	return &store, nil
}

type distanceResponse struct {
	DistanceMeters float64 `json:"distance_meters"`
}

// GetDistance returns the delivery distance in meters
func (m *MerchantClient) GetDistance(ctx context.Context, origin, destination Coordinates) (float64, error) {
	var out distanceResponse
	err := m.call(ctx, "get distance", m.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"origin_lat":      formatCoord(origin.Latitude),
			"origin_lng":      formatCoord(origin.Longitude),
			"destination_lat": formatCoord(destination.Latitude),
			"destination_lng": formatCoord(destination.Longitude),
		}).Get("/distance")
	})
	if err != nil {
		return 0, err
	}
	return out.DistanceMeters, nil
}

// ApplyCoupon fetches a coupon. Unknown codes map to coupon.ErrCouponNotFound.
func (m *MerchantClient) ApplyCoupon(ctx context.Context, code, storeID string) (*models.Coupon, error) {
	var c models.Coupon
	err := m.call(ctx, "apply coupon", m.timeout, &c, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("code", code).SetQueryParam("store_id", storeID).Get("/coupons/{code}")
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", coupon.ErrCouponNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PlaceOrder submits the order payload and returns the assigned identifier
func (m *MerchantClient) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.PlaceOrderResponse, error) {
	var out models.PlaceOrderResponse
	err := m.call(ctx, "place order", m.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/orders")
	})
	if err != nil {
		return nil, toPlaceOrderError(err)
	}
	if out.OrderID == "" {
		return nil, &PlaceOrderError{Message: "order service returned no order id"}
	}
	return &out, nil
}

func toPlaceOrderError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message()
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &PlaceOrderError{StatusCode: apiErr.StatusCode, Message: msg, OrderID: apiErr.Body.OrderID, Err: err}
	}
	return &PlaceOrderError{Message: err.Error(), Err: err}
}

// GetOrder fetches the confirmation view by order id
func (m *MerchantClient) GetOrder(ctx context.Context, orderID string) (*models.OrderConfirmation, error) {
	var out models.OrderConfirmation
	err := m.call(ctx, "get order", m.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("orderId", orderID).Get("/orders/{orderId}")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type activityBatch struct {
	Records []models.ActivityRecord `json:"records"`
}

// LogActivity posts a batch of activity records
func (m *MerchantClient) LogActivity(ctx context.Context, records []models.ActivityRecord) error {
	return m.call(ctx, "log activity", m.timeout, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(activityBatch{Records: records}).Post("/activity")
	})
}

// GetWalletBalance returns the shopper's wallet balance
func (m *MerchantClient) GetWalletBalance(ctx context.Context, sessionID string) (*models.WalletBalance, error) {
	var out models.WalletBalance
	err := m.call(ctx, "get wallet balance", m.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("session_id", sessionID).Get("/wallet")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
