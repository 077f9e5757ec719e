// Package creditpool ведёт балансы кредитных аккаунтов (стратегия CREDIT_POOL).
package creditpool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// AccountBalance: аккаунт, доступный для выбора кассиром.
type AccountBalance struct {
	AccountID string
	Label     string
	Balance   decimal.Decimal
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithLegacyFallback включает возврат кредитов в самый старый аккаунт того же семейства,
// если исходный аккаунт удалён.
func WithLegacyFallback(enabled bool) Option {
	return func(l *Ledger) {
		l.legacyFallback = enabled
	}
}

// WithFallbackObserver задаёт callback, вызываемый при вычислении номинала по названию товара.
func WithFallbackObserver(fn func()) Option {
	return func(l *Ledger) {
		l.onNameFallback = fn
	}
}

// Ledger списывает и возвращает кредиты.
type Ledger struct {
	logger         *log.Entry
	legacyFallback bool
	onNameFallback func()
}

// NewLedger создаёт Ledger.
func NewLedger(options ...Option) *Ledger {
	l := &Ledger{}
	for _, option := range options {
		option(l)
	}
	if l.logger == nil {
		l.logger = log.WithField("component", "credit-pool")
	}
	return l
}

// AvailableAccounts возвращает аккаунты семейства с балансом не ниже minBalance,
// по убыванию баланса.
func (l *Ledger) AvailableAccounts(ctx context.Context, tx domain.Tx, family string, minBalance decimal.Decimal) ([]AccountBalance, error) {
	accounts, err := tx.AccountsByFamily(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("list accounts of family %s: %w", family, err)
	}

	result := make([]AccountBalance, 0, len(accounts))
	for _, account := range accounts {
		if account.Balance.LessThan(minBalance) {
			continue
		}
		result = append(result, AccountBalance{
			AccountID: account.ID,
			Label:     account.Label,
			Balance:   account.Balance,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Balance.GreaterThan(result[j].Balance)
	})
	return result, nil
}

// CreditNeeded вычисляет сумму кредитов для строки:
// явная сумма для семейств, которые её требуют; иначе номинал × количество,
// где номинал берётся из поля FaceValue, затем из названия товара, затем из цены.
func (l *Ledger) CreditNeeded(item domain.Item, pool domain.CreditPool, qty int64, explicit decimal.NullDecimal) (decimal.Decimal, error) {
	if pool.RequiresExplicitAmount() {
		if !explicit.Valid || !explicit.Decimal.IsPositive() {
			return decimal.Zero, domain.MissingParameterError(item.Name, "credit_amount")
		}
		return checkScale(item, explicit.Decimal)
	}

	units := decimal.NewFromInt(qty)
	if pool.FaceValue.Valid && pool.FaceValue.Decimal.IsPositive() {
		return checkScale(item, pool.FaceValue.Decimal.Mul(units))
	}
	if face, ok := domain.ParseFaceValue(item.Name); ok {
		l.logger.WithFields(log.Fields{
			"item_id":    item.ID,
			"item_name":  item.Name,
			"face_value": face.String(),
		}).Warn("face value parsed from item name; set face_value on the catalog item")
		if l.onNameFallback != nil {
			l.onNameFallback()
		}
		return checkScale(item, face.Mul(units))
	}
	return checkScale(item, item.Price.Mul(units))
}

// Сумма с лишними знаками округлилась бы в хранилище, и возврат не совпал бы со списанием.
func checkScale(item domain.Item, amount decimal.Decimal) (decimal.Decimal, error) {
	if !domain.FitsMoneyScale(amount) {
		return decimal.Zero, fmt.Errorf("%w: credit amount %s for %q has more than %d decimal places",
			domain.ErrInvalidRequest, amount, item.Name, domain.MoneyScale)
	}
	return amount, nil
}

// Deduct уменьшает баланс аккаунта. Достаточность баланса проверена на этапе валидации.
func (l *Ledger) Deduct(ctx context.Context, tx domain.Tx, accountID string, amount decimal.Decimal) error {
	account, err := tx.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	balance := account.Balance.Sub(amount)
	if balance.IsNegative() {
		return fmt.Errorf("%w: account %s balance %s cannot cover %s",
			domain.ErrInvariantViolation, accountID, account.Balance, amount)
	}
	return tx.SetAccountBalance(ctx, accountID, balance)
}

// Restore возвращает кредиты на аккаунт из provenance. Если аккаунт удалён, возвращается
// запись о невозможном возврате; при включённом legacy-режиме кредиты зачисляются
// в самый старый аккаунт того же семейства.
func (l *Ledger) Restore(ctx context.Context, tx domain.Tx, ref domain.LineRef, p domain.CreditProvenance) (*domain.OrphanedRestoration, error) {
	account, err := tx.AccountByID(ctx, p.AccountID)
	switch {
	case err == nil:
		return nil, tx.SetAccountBalance(ctx, account.ID, account.Balance.Add(p.Amount))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if l.legacyFallback {
		siblings, err := tx.AccountsByFamily(ctx, p.Family)
		if err != nil {
			return nil, err
		}
		if len(siblings) > 0 {
			target := siblings[0]
			l.logger.WithFields(log.Fields{
				"order_id":         ref.OrderID,
				"line_id":          ref.LineID,
				"original_account": p.AccountID,
				"fallback_account": target.ID,
				"family":           p.Family,
				"restored_amount":  p.Amount.String(),
			}).Warn("original credit account is gone; restoring into oldest account of the same family")
			return nil, tx.SetAccountBalance(ctx, target.ID, target.Balance.Add(p.Amount))
		}
	}

	o := ref.Orphan(domain.RestorationCredit, p.AccountID, "credit account no longer exists")
	o.Family = p.Family
	o.Amount = p.Amount
	return &o, nil
}
