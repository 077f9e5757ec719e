package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestKeys() (*idempotencyKeys, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	return newIdempotencyKeys(clock.now), clock
}

func TestIdempotencyKeys_ReplayLifecycle(t *testing.T) {
	ctx := context.Background()
	keys, clock := newTestKeys()

	created, err := keys.CreateProcessing(ctx, "pos-42", "hash-a", time.Time{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", created.Status)
	}
	if !created.TTLAt.Equal(clock.t.Add(domain.DefaultIdempotencyTTL)) {
		t.Fatalf("expected default ttl, got %s", created.TTLAt)
	}

	body := []byte(`{"order_id":"o-1","total":"20"}`)
	clock.advance(time.Second)
	if err := keys.MarkDone(ctx, "pos-42", body, 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	body[0] = 'X'

	got, err := keys.Get(ctx, "pos-42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Replayable() || got.HTTPStatus != 201 {
		t.Fatalf("expected replayable 201 record, got %+v", got)
	}
	if string(got.ResponseBody) != `{"order_id":"o-1","total":"20"}` {
		t.Fatalf("stored body must not alias caller buffer: %s", got.ResponseBody)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatal("mark done must bump updated_at")
	}
}

func TestIdempotencyKeys_LiveKeyConflicts(t *testing.T) {
	ctx := context.Background()
	keys, _ := newTestKeys()

	if _, err := keys.CreateProcessing(ctx, "pos-7", "hash-a", time.Time{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := keys.CreateProcessing(ctx, "pos-7", "hash-a", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	held, err := keys.CreateProcessing(ctx, " pos-7 ", "hash-b", time.Time{})
	if !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
	if held.RequestHash != "hash-a" {
		t.Fatalf("conflict must return the held record, got %+v", held)
	}
}

func TestIdempotencyKeys_ExpiredKeyIsReclaimed(t *testing.T) {
	ctx := context.Background()
	keys, clock := newTestKeys()

	if _, err := keys.CreateProcessing(ctx, "pos-9", "hash-old", clock.t.Add(time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := keys.MarkFailed(ctx, "pos-9", []byte(`{"error":"insufficient"}`), 409); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	clock.advance(time.Minute)
	reclaimed, err := keys.CreateProcessing(ctx, "pos-9", "hash-new", time.Time{})
	if err != nil {
		t.Fatalf("expired key must be reusable: %v", err)
	}
	if reclaimed.RequestHash != "hash-new" || reclaimed.HTTPStatus != 0 || len(reclaimed.ResponseBody) != 0 {
		t.Fatalf("reclaimed key must start clean, got %+v", reclaimed)
	}
}

func TestIdempotencyKeys_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	keys, clock := newTestKeys()

	for i, key := range []string{"k-3", "k-1", "k-2"} {
		ttl := clock.t.Add(time.Duration(-10+i) * time.Minute)
		if key == "k-1" {
			ttl = clock.t.Add(-time.Hour)
		}
		if _, err := keys.CreateProcessing(ctx, key, "h", ttl); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := keys.CreateProcessing(ctx, "k-live", "h", clock.t.Add(time.Hour)); err != nil {
		t.Fatalf("create live: %v", err)
	}

	removed, err := keys.DeleteExpired(ctx, time.Time{}, 1)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", removed, err)
	}
	if _, err := keys.Get(ctx, "k-1"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("oldest key must go first, got %v", err)
	}

	removed, err = keys.DeleteExpired(ctx, time.Time{}, 0)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}
	if _, err := keys.Get(ctx, "k-live"); err != nil {
		t.Fatalf("live key must survive: %v", err)
	}
}

func TestIdempotencyKeys_InputValidation(t *testing.T) {
	ctx := context.Background()
	keys, _ := newTestKeys()

	if _, err := keys.CreateProcessing(ctx, "", "h", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := keys.Get(ctx, "  "); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if err := keys.MarkDone(ctx, "missing", nil, 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}
