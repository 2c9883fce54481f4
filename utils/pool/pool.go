package pool

import "sync"

// Free - свободный список поверх среза. Опустевший пул строит новое
// значение конструктором, поэтому Acquire всегда возвращает готовое к
// работе значение.
type Free[T any] struct {
	mu    sync.Mutex
	free  []T
	build func() T
}

func New[T any](build func() T) *Free[T] {
	return &Free[T]{build: build}
}

func NewSize[T any](build func() T, size int) *Free[T] {
	return &Free[T]{
		free:  make([]T, 0, size),
		build: build,
	}
}

func (p *Free[T]) Acquire() T {
	p.mu.Lock()
	l := len(p.free)
	if l == 0 {
		p.mu.Unlock()
		return p.build()
	}
	v := p.free[l-1]
	p.free = p.free[:l-1]
	p.mu.Unlock()
	return v
}

func (p *Free[T]) Release(v T) {
	p.mu.Lock()
	p.free = append(p.free, v)
	p.mu.Unlock()
}
