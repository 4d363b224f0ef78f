package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/ashendes/storefront-checkout/internal/session"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidTip       = errors.New("tip cannot be negative")
	ErrInvalidOrderType = errors.New("order type must be delivery or pickup")
	ErrNoAddress        = errors.New("no delivery address selected")
)

const maxNoteLength = 500

func (s *Service) CreateSession(ctx context.Context, storeID string) (*session.Session, error) {
	sess, err := s.sessions.Create(ctx, storeID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess.ID, "Started a session")
	return sess, nil
}

func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(ctx, id)
}

// mutate applies fn and, when the change affects what would be charged,
// fails the attempt that is in flight for the session.
func (s *Service) mutate(ctx context.Context, id string, pricingChange bool, fn func(*session.Session) error) (*session.Session, error) {
	sess, err := s.sessions.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if !pricingChange {
		return sess, nil
	}

	if orderID := sess.InFlightOrderID(); orderID != "" {
		ev, err := s.payments.Invalidate(ctx, orderID)
		switch {
		case errors.Is(err, payment.ErrAttemptNotFound):
			// Checkout notices the revision change once Initiate returns
		case err != nil:
			log.WithFields(log.Fields{"session_id": id, "order_id": orderID}).Error("Failed to invalidate payment attempt: ", err)
		default:
			log.WithFields(log.Fields{
				"session_id": id,
				"order_id":   orderID,
				"state":      ev.State.String(),
			}).Info("In-flight payment attempt invalidated by session change")
		}
	}
	return sess, nil
}

func (s *Service) AddLine(ctx context.Context, id string, line models.BasketLine) (*session.Session, error) {
	sess, err := s.mutate(ctx, id, true, func(sess *session.Session) error {
		return sess.Basket.Add(line)
	})
	if err == nil {
		s.record(ctx, id, fmt.Sprintf("Added %d x %s to basket", line.Quantity, lineName(line)))
	}
	return sess, err
}

// SetLineQuantity changes a line's quantity; zero or less removes the line
func (s *Service) SetLineQuantity(ctx context.Context, id, uniqueKey string, quantity int) (*session.Session, error) {
	sess, err := s.mutate(ctx, id, true, func(sess *session.Session) error {
		return sess.Basket.SetQuantity(uniqueKey, quantity)
	})
	if err == nil {
		s.record(ctx, id, fmt.Sprintf("Set quantity of %s to %d", uniqueKey, quantity))
	}
	return sess, err
}

func (s *Service) RemoveLine(ctx context.Context, id, uniqueKey string) (*session.Session, error) {
	return s.SetLineQuantity(ctx, id, uniqueKey, 0)
}

func (s *Service) SetAddress(ctx context.Context, id string, addr models.Address) (*session.Session, error) {
	return s.mutate(ctx, id, true, func(sess *session.Session) error {
		sess.SetAddress(&addr)
		return nil
	})
}

// ConfirmAddress records the shopper's acknowledgement of the delivery address
func (s *Service) ConfirmAddress(ctx context.Context, id string) (*session.Session, error) {
	return s.mutate(ctx, id, false, func(sess *session.Session) error {
		if sess.Address == nil {
			return ErrNoAddress
		}
		sess.AddressConfirmed = true
		return nil
	})
}

func (s *Service) SetOrderType(ctx context.Context, id string, t models.OrderType) (*session.Session, error) {
	if !t.Valid() {
		return nil, ErrInvalidOrderType
	}
	return s.mutate(ctx, id, true, func(sess *session.Session) error {
		sess.OrderType = t
		return nil
	})
}

// SetPayment selects the payment route. Selecting a route always replaces
// the previous one.
func (s *Service) SetPayment(ctx context.Context, id string, wire models.PaymentSelectionWire) (*session.Session, error) {
	if _, err := wire.Selection(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, true, func(sess *session.Session) error {
		w := wire
		sess.Payment = &w
		return nil
	})
}

func (s *Service) SetTip(ctx context.Context, id string, tip decimal.Decimal) (*session.Session, error) {
	if tip.IsNegative() {
		return nil, ErrInvalidTip
	}
	return s.mutate(ctx, id, true, func(sess *session.Session) error {
		sess.Tip = tip.Round(2)
		return nil
	})
}

func (s *Service) SetNote(ctx context.Context, id, note string) (*session.Session, error) {
	note = strings.TrimSpace(note)
	note = truncate(note, maxNoteLength)
	return s.mutate(ctx, id, false, func(sess *session.Session) error {
		sess.Note = note
		return nil
	})
}

// ApplyCoupon fetches the coupon and keeps it only if it is valid for the
// session's current order type and subtotal.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (*session.Session, error) {
	cur, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.coupons.Apply(ctx, strings.TrimSpace(code), cur.StoreID, cur.OrderType, cur.Basket.Subtotal())
	if err != nil {
		s.record(ctx, id, fmt.Sprintf("Coupon %s rejected", code))
		return nil, err
	}
	sess, err := s.mutate(ctx, id, true, func(sess *session.Session) error {
		sess.Coupon = c
		return nil
	})
	if err == nil {
		s.record(ctx, id, fmt.Sprintf("Applied coupon %s", c.Code))
	}
	return sess, err
}

func (s *Service) RemoveCoupon(ctx context.Context, id string) (*session.Session, error) {
	return s.mutate(ctx, id, true, func(sess *session.Session) error {
		sess.Coupon = nil
		return nil
	})
}

// RecordActivity queues a user-activity entry for the next flush
func (s *Service) RecordActivity(ctx context.Context, id, text string) {
	s.record(ctx, id, text)
}

func (s *Service) record(ctx context.Context, id, text string) {
	if s.activity == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := s.activity.Add(ctx, id, text); err != nil {
		log.WithField("session_id", id).Warn("Failed to queue activity: ", err)
	}
}

// truncate cuts s to at most limit bytes without splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut]
}

func lineName(l models.BasketLine) string {
	if l.Name != "" {
		return l.Name
	}
	return l.ItemID
}
