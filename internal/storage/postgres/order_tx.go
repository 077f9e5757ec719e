package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const orderColumns = `id, total, payment_amount, paid_at, created_by, created_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		paidAt sql.NullTime
	)
	if err := row.Scan(&order.ID, &order.Total, &order.PaymentAmount, &paidAt, &order.CreatedBy, &order.CreatedAt); err != nil {
		return domain.Order{}, err
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	return order, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.Total, order.PaymentAmount, order.PaidAt, order.CreatedBy, order.CreatedAt)
	if err != nil {
		if violates(err, sqlStateUnique) {
			return fmt.Errorf("order %s already exists", order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		provenance, err := domain.MarshalProvenance(line.Provenance)
		if err != nil {
			return fmt.Errorf("order line %d: %w", line.LineNo, err)
		}
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, line_no, item_id, item_name, quantity,
				unit_price, foreign_amount, unit_cost, provenance
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			line.ID, order.ID, line.LineNo, line.ItemID, line.ItemName, line.Quantity,
			line.UnitPrice, line.ForeignAmount, line.UnitCost, provenance,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (t *pgTx) OrderByID(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := t.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (t *pgTx) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = t.tx.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = t.tx.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	// Строки заказов читаются тем же соединением, поэтому курсор закрывается заранее.
	_ = rows.Close()

	for i := range orders {
		lines, err := t.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound, id)
}

func (t *pgTx) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, line_no, item_id, item_name, quantity,
		       unit_price, foreign_amount, unit_cost, provenance
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			line       domain.OrderLine
			provenance []byte
		)
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.LineNo, &line.ItemID, &line.ItemName, &line.Quantity,
			&line.UnitPrice, &line.ForeignAmount, &line.UnitCost, &provenance,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.Provenance, err = domain.UnmarshalProvenance(provenance)
		if err != nil {
			return nil, fmt.Errorf("order %s line %d: %w", orderID, line.LineNo, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

func (t *pgTx) RecordOrphan(ctx context.Context, orphan domain.OrphanedRestoration) error {
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	if orphan.CreatedAt.IsZero() {
		orphan.CreatedAt = t.now()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orphaned_restorations (
			id, order_id, line_id, kind, target_id, family, amount, units, reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		orphan.ID, orphan.OrderID, orphan.LineID, string(orphan.Kind), orphan.TargetID,
		orphan.Family, orphan.Amount, orphan.Units, orphan.Reason, orphan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert orphaned restoration: %w", err)
	}
	return nil
}

func (t *pgTx) ListOrphans(ctx context.Context, limit int) ([]domain.OrphanedRestoration, error) {
	query := `
		SELECT id, order_id, line_id, kind, target_id, family, amount, units, reason, created_at
		FROM orphaned_restorations
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = t.tx.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = t.tx.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list orphaned restorations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrphanedRestoration, 0)
	for rows.Next() {
		var (
			o    domain.OrphanedRestoration
			kind string
		)
		if err := rows.Scan(
			&o.ID, &o.OrderID, &o.LineID, &kind, &o.TargetID,
			&o.Family, &o.Amount, &o.Units, &o.Reason, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan orphaned restoration: %w", err)
		}
		o.Kind = domain.RestorationKind(kind)
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned restorations: %w", err)
	}
	return result, nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := t.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}
