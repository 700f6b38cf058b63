package holder

import (
	"sync"
)

// Lazy buffers items until a consumer takes them, with no timing. It suits
// records such as cache hits that only matter when the next write happens
// anyway.
type Lazy[T any] struct {
	mx    sync.Mutex
	items []T
}

func NewLazy[T any]() *Lazy[T] { return &Lazy[T]{} }

func (l *Lazy[T]) Append(items ...T) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.items = append(l.items, items...)
}

// Take returns everything buffered and empties the buffer.
func (l *Lazy[T]) Take() (items []T) {
	l.mx.Lock()
	defer l.mx.Unlock()
	items, l.items = l.items, nil
	return
}

func (l *Lazy[T]) Len() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.items)
}
