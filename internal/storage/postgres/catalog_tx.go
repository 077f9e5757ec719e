package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const itemColumns = `id, name, price, foreign_price, strategy, family, stock, unit_cost,
	face_value, explicit_amount, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item domain.Item
		fr   domain.FulfillmentRow
	)
	if err := row.Scan(
		&item.ID, &item.Name, &item.Price, &item.ForeignPrice,
		&fr.Kind, &fr.Family, &fr.Stock, &fr.UnitCost,
		&fr.FaceValue, &fr.ExplicitAmount, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.Item{}, err
	}
	item.Fulfillment = fr.Fulfillment()
	return item, nil
}

func (t *pgTx) ItemByID(ctx context.Context, id string) (domain.Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM catalog_items
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
		}
		return domain.Item{}, fmt.Errorf("select catalog item: %w", err)
	}
	return item, nil
}

func (t *pgTx) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM catalog_items
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", err)
	}
	return items, nil
}

func (t *pgTx) PutItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrInvalidRequest)
	}
	fr := domain.RowFromFulfillment(item.Fulfillment)
	now := t.now()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO catalog_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			foreign_price = EXCLUDED.foreign_price,
			strategy = EXCLUDED.strategy,
			family = EXCLUDED.family,
			stock = EXCLUDED.stock,
			unit_cost = EXCLUDED.unit_cost,
			face_value = EXCLUDED.face_value,
			explicit_amount = EXCLUDED.explicit_amount,
			updated_at = EXCLUDED.updated_at
	`,
		item.ID, item.Name, item.Price, item.ForeignPrice,
		fr.Kind, fr.Family, fr.Stock, fr.UnitCost,
		fr.FaceValue, fr.ExplicitAmount, createdAt, now,
	)
	if err != nil {
		if violates(err, sqlStateCheck) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

// DeleteItem удаляет товар; партии и рёбра комплектов удаляются каскадно.
func (t *pgTx) DeleteItem(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete catalog item: %w", err)
	}
	return expectAffected(res, domain.ErrItemNotFound, id)
}

func (t *pgTx) SetItemStock(ctx context.Context, id string, stock int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE catalog_items
		SET stock = $2,
		    updated_at = $3
		WHERE id = $1
		  AND strategy = $4
	`, id, stock, t.now(), string(domain.StrategyPlainStock))
	if err != nil {
		if violates(err, sqlStateCheck) {
			return fmt.Errorf("%w: stock %d for item %s: %v", domain.ErrInvariantViolation, stock, id, err)
		}
		return fmt.Errorf("update item stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	item, err := t.ItemByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: item %s is %s, not plain stock", domain.ErrInvariantViolation, id, item.Fulfillment.Kind())
}

func (t *pgTx) BundleComponents(ctx context.Context, bundleID string) ([]domain.BundleComponent, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT bundle_id, component_id, qty_per_unit
		FROM bundle_components
		WHERE bundle_id = $1
		ORDER BY position ASC
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("select bundle components: %w", err)
	}
	defer rows.Close()

	components := make([]domain.BundleComponent, 0)
	for rows.Next() {
		var c domain.BundleComponent
		if err := rows.Scan(&c.BundleID, &c.ComponentID, &c.QtyPerUnit); err != nil {
			return nil, fmt.Errorf("scan bundle component: %w", err)
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundle components: %w", err)
	}
	return components, nil
}

func (t *pgTx) SetBundleComponents(ctx context.Context, bundleID string, components []domain.BundleComponent) error {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1)
	`, bundleID).Scan(&exists); err != nil {
		return fmt.Errorf("check bundle exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, bundleID)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM bundle_components WHERE bundle_id = $1`, bundleID); err != nil {
		return fmt.Errorf("clear bundle components: %w", err)
	}

	for i, c := range components {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO bundle_components (bundle_id, component_id, qty_per_unit, position)
			VALUES ($1,$2,$3,$4)
		`, bundleID, c.ComponentID, c.QtyPerUnit, i); err != nil {
			switch {
			case violates(err, sqlStateForeignKey):
				return fmt.Errorf("%w: %s", domain.ErrItemNotFound, c.ComponentID)
			case violates(err, sqlStateUnique, sqlStateCheck):
				return fmt.Errorf("%w: bundle component %s: %v", domain.ErrInvalidRequest, c.ComponentID, err)
			}
			return fmt.Errorf("insert bundle component: %w", err)
		}
	}
	return nil
}

const lotColumns = `id, item_id, unit_cost, units, created_at`

func scanLot(row rowScanner) (domain.CostLotRecord, error) {
	var lot domain.CostLotRecord
	err := row.Scan(&lot.ID, &lot.ItemID, &lot.UnitCost, &lot.Units, &lot.CreatedAt)
	return lot, err
}

func (t *pgTx) LotsForItem(ctx context.Context, itemID string) ([]domain.CostLotRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+lotColumns+`
		FROM cost_lots
		WHERE item_id = $1
		ORDER BY unit_cost ASC, created_at ASC, id ASC
		FOR UPDATE
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("select cost lots: %w", err)
	}
	defer rows.Close()

	lots := make([]domain.CostLotRecord, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cost lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost lots: %w", err)
	}
	return lots, nil
}

func (t *pgTx) LotByID(ctx context.Context, id string) (domain.CostLotRecord, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		SELECT `+lotColumns+`
		FROM cost_lots
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CostLotRecord{}, fmt.Errorf("%w: %s", domain.ErrLotNotFound, id)
		}
		return domain.CostLotRecord{}, fmt.Errorf("select cost lot: %w", err)
	}
	return lot, nil
}

func (t *pgTx) PutLot(ctx context.Context, lot domain.CostLotRecord) error {
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = t.now()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cost_lots (`+lotColumns+`)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			unit_cost = EXCLUDED.unit_cost,
			units = EXCLUDED.units
	`, lot.ID, lot.ItemID, lot.UnitCost, lot.Units, lot.CreatedAt)
	if err != nil {
		switch {
		case violates(err, sqlStateForeignKey):
			return fmt.Errorf("%w: %s", domain.ErrItemNotFound, lot.ItemID)
		case violates(err, sqlStateCheck):
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		return fmt.Errorf("upsert cost lot: %w", err)
	}
	return nil
}

func (t *pgTx) SetLotUnits(ctx context.Context, id string, units int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE cost_lots SET units = $2 WHERE id = $1`, id, units)
	if err != nil {
		if violates(err, sqlStateCheck) {
			return fmt.Errorf("%w: lot %s units %d", domain.ErrInvariantViolation, id, units)
		}
		return fmt.Errorf("update lot units: %w", err)
	}
	return expectAffected(res, domain.ErrLotNotFound, id)
}

func (t *pgTx) DeleteLot(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cost_lots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cost lot: %w", err)
	}
	return expectAffected(res, domain.ErrLotNotFound, id)
}

const accountColumns = `id, label, family, balance, created_at, updated_at`

func scanAccount(row rowScanner) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := row.Scan(&a.ID, &a.Label, &a.Family, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *pgTx) AccountByID(ctx context.Context, id string) (domain.CreditAccount, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CreditAccount{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		return domain.CreditAccount{}, fmt.Errorf("select credit account: %w", err)
	}
	return account, nil
}

func (t *pgTx) AccountsByFamily(ctx context.Context, family string) ([]domain.CreditAccount, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE family = $1
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, family)
	if err != nil {
		return nil, fmt.Errorf("select credit accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.CreditAccount, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit accounts: %w", err)
	}
	return accounts, nil
}

func (t *pgTx) PutAccount(ctx context.Context, account domain.CreditAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := t.now()
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			family = EXCLUDED.family,
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
	`, account.ID, account.Label, account.Family, account.Balance, createdAt, now)
	if err != nil {
		if violates(err, sqlStateCheck) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		return fmt.Errorf("upsert credit account: %w", err)
	}
	return nil
}

func (t *pgTx) SetAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, balance, t.now())
	if err != nil {
		if violates(err, sqlStateCheck) {
			return fmt.Errorf("%w: account %s balance %s", domain.ErrInvariantViolation, id, balance)
		}
		return fmt.Errorf("update account balance: %w", err)
	}
	return expectAffected(res, domain.ErrAccountNotFound, id)
}

func (t *pgTx) DeleteAccount(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM credit_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credit account: %w", err)
	}
	return expectAffected(res, domain.ErrAccountNotFound, id)
}
