package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OrderLineEvent: строка заказа в событии.
type OrderLineEvent struct {
	LineID    string `json:"line_id"`
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Strategy  string `json:"strategy"`
}

// OrphanEvent: невозможный возврат в событии удаления.
type OrphanEvent struct {
	LineID   string `json:"line_id"`
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
	Units    int64  `json:"units,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Reason   string `json:"reason"`
}

// OrderCreatedEvent: payload события order.created.
type OrderCreatedEvent struct {
	OrderID   string           `json:"order_id"`
	Total     string           `json:"total"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
	Lines     []OrderLineEvent `json:"lines"`
}

// OrderDeletedEvent: payload события order.deleted.
type OrderDeletedEvent struct {
	OrderID   string        `json:"order_id"`
	Total     string        `json:"total"`
	DeletedBy string        `json:"deleted_by"`
	Orphans   []OrphanEvent `json:"orphans,omitempty"`
}

// RestorationDriftEvent: payload события order.restoration_orphaned.
type RestorationDriftEvent struct {
	OrderID string        `json:"order_id"`
	Orphans []OrphanEvent `json:"orphans"`
}

func createdPayload(order domain.Order) OrderCreatedEvent {
	lines := make([]OrderLineEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		strategy := ""
		if line.Provenance != nil {
			strategy = string(line.Provenance.ProvenanceKind())
		}
		lines = append(lines, OrderLineEvent{
			LineID:    line.ID,
			ItemID:    line.ItemID,
			ItemName:  line.ItemName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.String(),
			Strategy:  strategy,
		})
	}
	return OrderCreatedEvent{
		OrderID:   order.ID,
		Total:     order.Total.String(),
		CreatedBy: order.CreatedBy,
		CreatedAt: order.CreatedAt,
		Lines:     lines,
	}
}

func deletedPayload(order domain.Order, actor domain.Actor, orphans []domain.OrphanedRestoration) OrderDeletedEvent {
	return OrderDeletedEvent{
		OrderID:   order.ID,
		Total:     order.Total.String(),
		DeletedBy: actor.ID,
		Orphans:   orphanEvents(orphans),
	}
}

func driftPayload(orderID string, orphans []domain.OrphanedRestoration) RestorationDriftEvent {
	return RestorationDriftEvent{OrderID: orderID, Orphans: orphanEvents(orphans)}
}

func orphanEvents(orphans []domain.OrphanedRestoration) []OrphanEvent {
	if len(orphans) == 0 {
		return nil
	}
	out := make([]OrphanEvent, 0, len(orphans))
	for _, o := range orphans {
		ev := OrphanEvent{
			LineID:   o.LineID,
			Kind:     string(o.Kind),
			TargetID: o.TargetID,
			Units:    o.Units,
			Reason:   o.Reason,
		}
		if !o.Amount.IsZero() {
			ev.Amount = o.Amount.String()
		}
		out = append(out, ev)
	}
	return out
}

func enqueueEvent(ctx context.Context, tx domain.Tx, orderID, eventType string, payload any, now time.Time) error {
	msg, err := domain.NewOrderEvent(uuid.NewString(), orderID, eventType, payload, now)
	if err != nil {
		return err
	}
	return tx.EnqueueOutbox(ctx, msg)
}
