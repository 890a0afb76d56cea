package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// recoveryKey is the hash holding the persisted recovery record. Fields:
// "entry_time" (Unix nanoseconds), "last_base_amount", "last_buy_price".
const recoveryKey = "tidebot:recovery"

// RecoveryStore implements domain.RecoveryStore on a Redis hash. The record
// is tiny and overwritten in place after every confirmed leg, so time-stop
// and drawdown-stop math survives a process restart.
type RecoveryStore struct {
	rdb *redis.Client
}

// NewRecoveryStore creates a RecoveryStore backed by the given Client.
func NewRecoveryStore(c *Client) *RecoveryStore {
	return &RecoveryStore{rdb: c.Underlying()}
}

// Save overwrites the recovery record.
func (s *RecoveryStore) Save(ctx context.Context, rec domain.RecoveryRecord) error {
	fields := map[string]interface{}{
		"entry_time":       strconv.FormatInt(rec.EntryTime.UnixNano(), 10),
		"last_base_amount": strconv.FormatFloat(rec.LastBaseAmount, 'f', -1, 64),
		"last_buy_price":   strconv.FormatFloat(rec.LastBuyPrice, 'f', -1, 64),
	}
	if err := s.rdb.HSet(ctx, recoveryKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: save recovery: %w", err)
	}
	return nil
}

// Load reads the recovery record, returning domain.ErrNotFound when it has
// never been saved.
func (s *RecoveryStore) Load(ctx context.Context) (domain.RecoveryRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, recoveryKey).Result()
	if err != nil {
		return domain.RecoveryRecord{}, fmt.Errorf("redis: load recovery: %w", err)
	}
	if len(vals) == 0 {
		return domain.RecoveryRecord{}, domain.ErrNotFound
	}

	var rec domain.RecoveryRecord
	if v, ok := vals["entry_time"]; ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("redis: parse entry_time: %w", err)
		}
		rec.EntryTime = time.Unix(0, nanos)
	}
	if v, ok := vals["last_base_amount"]; ok {
		if rec.LastBaseAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return rec, fmt.Errorf("redis: parse last_base_amount: %w", err)
		}
	}
	if v, ok := vals["last_buy_price"]; ok {
		if rec.LastBuyPrice, err = strconv.ParseFloat(v, 64); err != nil {
			return rec, fmt.Errorf("redis: parse last_buy_price: %w", err)
		}
	}
	return rec, nil
}
