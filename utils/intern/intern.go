// Package intern схлопывает повторяющиеся строки в одну аллокацию.
//
// Имена хедеров приходят от hpack-декодера новой строкой на каждый блок,
// хотя множество реально используемых имен крошечное. Кеш с вытеснением
// по давности держит горячие имена живыми, а редкие не копятся.
package intern

import (
	"container/list"
	"sync"
)

type LRU struct {
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	mu      sync.Mutex
}

func New(maxSize int) *LRU {
	if maxSize < 1 {
		panic("assertion error: maxSize < 1")
	}
	return &LRU{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
	}
}

// GetOrAdd возвращает каноническую копию s, продлевая ей жизнь в кеше.
func (l *LRU) GetOrAdd(s string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	element, ok := l.items[s]
	if ok {
		l.order.MoveToFront(element)
		return element.Value.(string)
	}

	if len(l.items) >= l.maxSize {
		element = l.order.Back()
		l.order.Remove(element)
		delete(l.items, element.Value.(string))
	}

	element = l.order.PushFront(s)
	l.items[s] = element
	return s
}

// Len - текущее количество закешированных строк.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
