// Package lock сериализует операции над общими остатками: аккаунтами, партиями и товарами.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotObtained возвращается, если блокировку не удалось получить до отмены контекста.
var ErrNotObtained = errors.New("lock not obtained")

// Locker захватывает набор ключей целиком. release освобождает все захваченные ключи.
type Locker interface {
	Lock(ctx context.Context, keys []string) (release func(), err error)
}

// ItemKey возвращает ключ блокировки товара.
func ItemKey(id string) string { return "item:" + id }

// AccountKey возвращает ключ блокировки кредитного аккаунта.
func AccountKey(id string) string { return "account:" + id }

// OrderKey возвращает ключ блокировки заказа.
func OrderKey(id string) string { return "order:" + id }

// normalize сортирует ключи и убирает дубликаты: одинаковый порядок захвата исключает взаимные блокировки.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if key == "" || (i > 0 && key == out[i-1]) {
			continue
		}
		out[n] = key
		n++
	}
	return out[:n]
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local: блокировки в памяти процесса, по каналу-семафору на ключ.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocal создаёт Local.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock захватывает ключи по порядку. При отмене ctx уже захваченные ключи освобождаются.
func (l *Local) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))

	releaseAll := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.unlock(acquired[i])
		}
	}

	for _, key := range keys {
		e := l.ref(key)
		select {
		case e.ch <- struct{}{}:
			acquired = append(acquired, key)
		case <-ctx.Done():
			l.unref(key)
			releaseAll()
			return nil, errors.Join(ErrNotObtained, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Local) unlock(key string) {
	l.mu.Lock()
	e := l.entries[key]
	l.mu.Unlock()

	<-e.ch
	l.unref(key)
}
