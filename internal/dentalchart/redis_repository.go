package dentalchart

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const forceSaveAttempts = 3

// RedisRepository stores charts as JSON strings, using WATCH for compare-and-set on the version.
type RedisRepository struct {
	redis *redis.Client
}

// NewRedisRepository creates a Redis-backed chart store.
func NewRedisRepository(redisClient *redis.Client) *RedisRepository {
	if redisClient == nil {
		panic("dentalchart: redis client required")
	}
	return &RedisRepository{redis: redisClient}
}

func (r *RedisRepository) key(patientID string) string {
	return fmt.Sprintf("chart:document:%s", patientID)
}

// Load fetches the stored document.
func (r *RedisRepository) Load(ctx context.Context, patientID string) (*Document, error) {
	data, err := r.redis.Get(ctx, r.key(patientID)).Bytes()
	if err == redis.Nil {
		return nil, ErrChartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dentalchart: redis get: %w", err)
	}
	return decodeDocument(data)
}

// Save writes the document inside a WATCH transaction.
func (r *RedisRepository) Save(ctx context.Context, doc *Document, opts SaveOptions) error {
	if err := checkSavable(doc); err != nil {
		return err
	}
	key := r.key(doc.PatientID)

	attempts := 1
	if opts.Force {
		attempts = forceSaveAttempts
	}

	var next int64
	txf := func(tx *redis.Tx) error {
		var stored int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("dentalchart: redis get: %w", err)
		default:
			current, err := decodeDocument(data)
			if err != nil {
				return err
			}
			stored = current.Version
		}
		if !opts.Force && stored != doc.Version {
			return fmt.Errorf("%w: stored version %d, base version %d", ErrVersionConflict, stored, doc.Version)
		}

		next = stored + 1
		payload, err := marshalVersion(doc, next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = r.redis.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		if opts.Force {
			return fmt.Errorf("%w: %d attempts on %s", ErrSaveContended, attempts, key)
		}
		return fmt.Errorf("%w: concurrent write to %s", ErrVersionConflict, key)
	}
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("dentalchart: redis save: %w", err)
	}
	doc.Version = next
	return nil
}
