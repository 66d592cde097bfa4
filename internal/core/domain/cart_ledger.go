package domain

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// CartLedger holds the line items of one pending order. Entries keep their
// insertion order and no two entries share an ItemKey.
type CartLedger struct {
	mu    sync.RWMutex
	items []LineItem
}

func NewCartLedger() *CartLedger {
	return &CartLedger{}
}

// Add merges item into the ledger. When a line with the same key exists its
// quantity grows and its original unit price is kept. Items with a
// non-positive quantity are ignored.
func (l *CartLedger) Add(item LineItem) {
	if item.Quantity <= 0 {
		return
	}
	if item.Fingerprint == "" {
		item.Fingerprint = item.Customization.Fingerprint()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexOf(item.Key()); i >= 0 {
		l.items[i].Quantity += item.Quantity
		return
	}
	item.Customization.SelectedOptionIDs = append([]int64(nil), item.Customization.SelectedOptionIDs...)
	l.items = append(l.items, item)
}

// SetQuantity replaces the quantity of the matching line; quantity <= 0
// removes it. It reports whether a line matched.
func (l *CartLedger) SetQuantity(key ItemKey, quantity int) bool {
	if quantity <= 0 {
		return l.Remove(key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(key)
	if i < 0 {
		return false
	}
	l.items[i].Quantity = quantity
	return true
}

// Remove deletes the matching line and reports whether one existed.
func (l *CartLedger) Remove(key ItemKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(key)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

func (l *CartLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// Subtract takes the given lines back out of the ledger: each matching line
// loses the given quantity and is removed once nothing is left. Lines added
// after items was read are kept.
func (l *CartLedger) Subtract(items []LineItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, item := range items {
		if item.Fingerprint == "" {
			item.Fingerprint = item.Customization.Fingerprint()
		}
		i := l.indexOf(item.Key())
		if i < 0 {
			continue
		}
		l.items[i].Quantity -= item.Quantity
		if l.items[i].Quantity <= 0 {
			l.items = append(l.items[:i], l.items[i+1:]...)
		}
	}
}

// Restore replaces the contents with items, merging duplicates.
func (l *CartLedger) Restore(items []LineItem) {
	l.Clear()
	for _, item := range items {
		l.Add(item)
	}
}

// Items returns a copy of the lines in insertion order.
func (l *CartLedger) Items() []LineItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LineItem, len(l.items))
	for i, item := range l.items {
		item.Customization.SelectedOptionIDs = slices.Clone(item.Customization.SelectedOptionIDs)
		out[i] = item
	}
	return out
}

func (l *CartLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Quantity is the number of units across all lines.
func (l *CartLedger) Quantity() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, item := range l.items {
		n += item.Quantity
	}
	return n
}

func (l *CartLedger) Subtotal() Money {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum Money
	for _, item := range l.items {
		sum += item.LineTotal()
	}
	return sum
}

func (l *CartLedger) Tax(rate decimal.Decimal) Money {
	return l.Subtotal().ApplyRate(rate)
}

func (l *CartLedger) Total(rate decimal.Decimal) Money {
	subtotal := l.Subtotal()
	return subtotal + subtotal.ApplyRate(rate)
}

func (l *CartLedger) indexOf(key ItemKey) int {
	for i := range l.items {
		if l.items[i].Key() == key {
			return i
		}
	}
	return -1
}
