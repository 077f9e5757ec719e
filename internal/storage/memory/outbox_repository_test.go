package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func enqueue(t *testing.T, store *Store, msg domain.OutboxMessage) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestOutboxRepository_PullInWriteOrder(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	base := time.Now().UTC()

	enqueue(t, store, domain.OutboxMessage{ID: "b", AggregateID: "order-2", EventType: domain.EventOrderCreated, CreatedAt: base.Add(time.Second)})
	enqueue(t, store, domain.OutboxMessage{ID: "a", AggregateID: "order-1", EventType: domain.EventOrderCreated, CreatedAt: base})

	pending, err := repo.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID != "a" || pending[1].ID != "b" {
		t.Fatalf("unexpected order: %s, %s", pending[0].ID, pending[1].ID)
	}

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 2 || !stats.OldestPendingAt.Equal(base) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewOutboxRepository(store)

	enqueue(t, store, domain.OutboxMessage{ID: "sent", AggregateType: domain.AggregateOrder})
	enqueue(t, store, domain.OutboxMessage{ID: "failed", AggregateType: domain.AggregateOrder})

	if err := repo.MarkSent(ctx, "sent"); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "failed"); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}
	if err := repo.MarkSent(ctx, "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}

	if got := len(store.PendingMessages()); got != 0 {
		t.Fatalf("expected no pending messages, got %d", got)
	}
}

func TestOutboxRepository_RolledBackTxLeavesNoMessage(t *testing.T) {
	store := NewStore()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{ID: "ghost"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected tx error")
	}

	if got := len(store.PendingMessages()); got != 0 {
		t.Fatalf("expected rolled back message to be discarded, got %d", got)
	}
}
