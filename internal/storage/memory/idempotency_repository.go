package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// idempotencyKeys хранит ключи идемпотентности в map под мьютексом.
type idempotencyKeys struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyKeys(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyKeys(now func() time.Time) *idempotencyKeys {
	return &idempotencyKeys{records: make(map[string]domain.IdempotencyRecord), now: now}
}

// CreateProcessing занимает ключ. Ключ с истёкшим TTL, который ещё не удалил cleanup-воркер,
// перезаписывается.
func (k *idempotencyKeys) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := k.now()
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if held, ok := k.records[record.Key]; ok && !held.Expired(now) {
		return copyRecord(held), held.Conflict(record.RequestHash)
	}
	k.records[record.Key] = record
	return copyRecord(record), nil
}

func (k *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (k *idempotencyKeys) MarkDone(_ context.Context, key string, body []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (k *idempotencyKeys) MarkFailed(_ context.Context, key string, body []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit ключей с TTL не позже before, начиная с самых старых.
// limit<=0 снимает ограничение.
func (k *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = k.now()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, record := range k.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(k.records, record.Key)
	}
	return len(expired), nil
}

func (k *idempotencyKeys) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), body...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = k.now()
	k.records[key] = record
	return nil
}

func copyRecord(r domain.IdempotencyRecord) domain.IdempotencyRecord {
	r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return r
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
