package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: запрошенная сущность (товар, аккаунт, партия, заказ) отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrItemNotFound возвращается, если товар каталога не найден.
	ErrItemNotFound = fmt.Errorf("catalog item %w", ErrNotFound)
	// ErrAccountNotFound возвращается, если кредитный аккаунт не найден.
	ErrAccountNotFound = fmt.Errorf("credit account %w", ErrNotFound)
	// ErrLotNotFound возвращается, если партия товара не найдена.
	ErrLotNotFound = fmt.Errorf("cost lot %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)

	// ErrInsufficientInventory: остатка, партий, баланса или комплектов меньше, чем требуется.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrMissingParameter: не передан обязательный для стратегии параметр строки.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrInvalidRequest: запрос некорректен до обращения к складу.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvariantViolation: сбой фазы записи после успешной валидации.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnauthenticated: вызов без идентифицированного пользователя.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden: у пользователя нет прав администратора.
	ErrForbidden = errors.New("forbidden")

	// ErrItemsRequired: корзина пуста.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidRequest)
	// ErrItemQtyInvalid: количество в строке <= 0.
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidRequest)
	// ErrPaymentAmountNegative: отрицательная сумма оплаты.
	ErrPaymentAmountNegative = fmt.Errorf("%w: payment amount must be non-negative", ErrInvalidRequest)

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ShortfallError описывает нехватку остатка по конкретному товару или аккаунту.
type ShortfallError struct {
	Item      string
	Available string
	Requested string
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient inventory for %q: available %s, requested %s", e.Item, e.Available, e.Requested)
}

func (e *ShortfallError) Unwrap() error {
	return ErrInsufficientInventory
}

// NewShortfall создаёт ShortfallError для целочисленных остатков.
func NewShortfall(item string, available, requested int64) error {
	return &ShortfallError{
		Item:      item,
		Available: fmt.Sprintf("%d", available),
		Requested: fmt.Sprintf("%d", requested),
	}
}

// MissingParameterError создаёт ошибку с указанием товара и параметра.
func MissingParameterError(item, param string) error {
	return fmt.Errorf("%w: %s is required for %q", ErrMissingParameter, param, item)
}

// IsUserError проверяет, что ошибка вызвана содержимым запроса, а не состоянием сервиса.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrNotFound)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
