package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	pendingAttemptsKey = "attempts:pending"
	attemptTTL         = 7 * 24 * time.Hour
	maxTxRetries       = 5
)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// RedisStore persists sessions as JSON documents and doubles as the
// orchestrator's AttemptStore so that success cleanup and the succeeded
// attempt land in the same transaction.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ payment.AttemptStore = (*RedisStore)(nil)

func (r *RedisStore) Create(ctx context.Context, storeID string) (*Session, error) {
	now := r.now()
	sess := &Session{
		ID:        uuid.New().String(),
		StoreID:   storeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session failed: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sess.ID), data, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis set failed: %w", err)
	}
	return sess, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return loadSession(ctx, r.client, sessionKey(id))
}

// Update applies fn to the session under optimistic locking and bumps its
// revision. fn may run more than once if the session changes concurrently.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	return r.update(ctx, id, fn, nil)
}

// BeginCheckout claims the session for one checkout. It fails with
// ErrCheckoutInProgress while another checkout holds the claim.
func (r *RedisStore) BeginCheckout(ctx context.Context, id string) (*Session, error) {
	return r.update(ctx, id, func(s *Session) error {
		now := r.now()
		if s.claimed(now) {
			return ErrCheckoutInProgress
		}
		// the claim records the revision it will be bumped to
		s.Checkout = &ActiveCheckout{Revision: s.Revision + 1, StartedAt: now}
		return nil
	}, nil)
}

// AttachOrder binds the placed order to the claim. It reports whether the
// session was mutated since the claim was taken.
func (r *RedisStore) AttachOrder(ctx context.Context, id, orderID string) (*Session, bool, error) {
	changed := false
	sess, err := r.update(ctx, id, func(s *Session) error {
		changed = s.Checkout == nil || s.Checkout.Revision != s.Revision
		s.Checkout = &ActiveCheckout{OrderID: orderID, Revision: s.Revision + 1, StartedAt: r.now()}
		return nil
	}, nil)
	if err != nil {
		return nil, false, err
	}
	return sess, changed, nil
}

// EndCheckout releases the claim, provided it still belongs to orderID. An
// empty orderID releases a claim that never got an order.
func (r *RedisStore) EndCheckout(ctx context.Context, id, orderID string) error {
	_, err := r.update(ctx, id, func(s *Session) error {
		if s.Checkout != nil && s.Checkout.OrderID == orderID {
			s.Checkout = nil
		}
		return nil
	}, nil)
	return err
}

func (r *RedisStore) SaveAttempt(ctx context.Context, a *payment.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt failed: %w", err)
	}
	write := func(pipe redis.Pipeliner) {
		pipe.Set(ctx, attemptKey(a.OrderID), data, attemptTTL)
		if a.State.IsTerminal() {
			pipe.ZRem(ctx, pendingAttemptsKey, a.OrderID)
		} else {
			pipe.ZAdd(ctx, pendingAttemptsKey, redis.Z{Score: float64(a.UpdatedAt.Unix()), Member: a.OrderID})
		}
	}

	if !a.State.IsTerminal() || a.SessionID == "" {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis save attempt failed: %w", err)
		}
		return nil
	}

	// a finished attempt releases the session for the next checkout
	_, err = r.update(ctx, a.SessionID, func(s *Session) error {
		if s.Checkout != nil && s.Checkout.OrderID == a.OrderID {
			s.Checkout = nil
		}
		return nil
	}, write)
	if errors.Is(err, ErrSessionNotFound) {
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("redis save attempt failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadAttempt(ctx context.Context, orderID string) (*payment.Attempt, error) {
	data, err := r.client.Get(ctx, attemptKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, payment.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var a payment.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt failed: %w", err)
	}
	return &a, nil
}

// CommitSuccess writes the succeeded attempt and clears the session's basket
// and selections in one MULTI/EXEC. The attempt key is watched as well, so a
// second process reconciling the same order cannot clear twice.
func (r *RedisStore) CommitSuccess(ctx context.Context, a *payment.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt failed: %w", err)
	}
	sKey, aKey := sessionKey(a.SessionID), attemptKey(a.OrderID)

	txf := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, aKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var prev payment.Attempt
			if err := json.Unmarshal(stored, &prev); err == nil && prev.State.IsTerminal() {
				return fmt.Errorf("%w: order %s is %s", payment.ErrAttemptFinished, a.OrderID, prev.State)
			}
		}

		sess, err := loadSession(ctx, tx, sKey)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		var sessData []byte
		if sess != nil {
			sess.clearAfterSuccess(a.OrderID)
			sess.Revision++
			sess.UpdatedAt = r.now()
			if sessData, err = json.Marshal(sess); err != nil {
				return fmt.Errorf("marshal session failed: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, aKey, data, attemptTTL)
			pipe.ZRem(ctx, pendingAttemptsKey, a.OrderID)
			if sessData != nil {
				pipe.Set(ctx, sKey, sessData, r.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, sKey, aKey)
		if err == nil {
			log.WithFields(log.Fields{"order_id": a.OrderID, "session_id": a.SessionID}).Info("Session cleared after payment success")
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// PendingAttempts lists orders whose attempt has not changed since before
// the cutoff and is not finished.
func (r *RedisStore) PendingAttempts(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, pendingAttemptsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}
	return ids, nil
}

func (r *RedisStore) update(ctx context.Context, id string, fn func(*Session) error, extra func(redis.Pipeliner)) (*Session, error) {
	key := sessionKey(id)
	var out *Session

	txf := func(tx *redis.Tx) error {
		sess, err := loadSession(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.Revision++
		sess.UpdatedAt = r.now()
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func loadSession(ctx context.Context, g getter, key string) (*Session, error) {
	data, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &sess, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func attemptKey(orderID string) string {
	return fmt.Sprintf("attempt:%s", orderID)
}
