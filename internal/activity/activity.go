// Package activity queues user-activity records per session and flushes them
// to the logging collaborator. Flushing is best effort.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// maxPerSession bounds a session's queue; the oldest records are dropped first
const maxPerSession = 200

// Queue holds activity records in Redis until the next order submission.
// Each session's list carries the session TTL.
type Queue struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewQueue(client *redis.Client, ttl time.Duration) *Queue {
	return &Queue{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (q *Queue) Add(ctx context.Context, sessionID, text string) error {
	data, err := json.Marshal(models.ActivityRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Text:      text,
		At:        q.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal activity failed: %w", err)
	}

	key := queueKey(sessionID)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -maxPerSession, -1)
		pipe.Expire(ctx, key, q.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

// Drain removes and returns everything queued for the session
func (q *Queue) Drain(ctx context.Context, sessionID string) ([]models.ActivityRecord, error) {
	key := queueKey(sessionID)
	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis drain failed: %w", err)
	}

	raw := items.Val()
	recs := make([]models.ActivityRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.ActivityRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			log.WithField("session_id", sessionID).Warn("Skipping unreadable activity record: ", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (q *Queue) Len(ctx context.Context, sessionID string) (int64, error) {
	return q.client.LLen(ctx, queueKey(sessionID)).Result()
}

func queueKey(sessionID string) string {
	return fmt.Sprintf("activity:%s", sessionID)
}

// Sink receives a batch of activity records
type Sink interface {
	Send(ctx context.Context, records []models.ActivityRecord) error
}

// Flush drains the session's queue into the sink. Failures are logged and
// dropped; they never reach the caller.
func Flush(ctx context.Context, q *Queue, sessionID string, sink Sink) {
	recs, err := q.Drain(ctx, sessionID)
	if err != nil {
		metrics.ActivityFlushes.WithLabelValues("failed").Inc()
		log.WithField("session_id", sessionID).Warn("Activity drain failed: ", err)
		return
	}
	if len(recs) == 0 || sink == nil {
		metrics.ActivityFlushes.WithLabelValues("empty").Inc()
		return
	}

	if err := sink.Send(ctx, recs); err != nil {
		metrics.ActivityFlushes.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{
			"session_id": sessionID,
			"records":    len(recs),
		}).Warn("Activity flush failed: ", err)
		return
	}
	metrics.ActivityFlushes.WithLabelValues("ok").Inc()
}

// Logger is the merchant collaborator's activity endpoint
type Logger interface {
	LogActivity(ctx context.Context, records []models.ActivityRecord) error
}

// HTTPSink posts records to the merchant service
type HTTPSink struct {
	logger Logger
}

func NewHTTPSink(logger Logger) *HTTPSink {
	return &HTTPSink{logger: logger}
}

func (s *HTTPSink) Send(ctx context.Context, records []models.ActivityRecord) error {
	return s.logger.LogActivity(ctx, records)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per record, keyed by session id so a
// session's records stay ordered.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(topic string, brokers ...string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Send(ctx context.Context, records []models.ActivityRecord) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.SessionID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte("user_activity")},
			},
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
