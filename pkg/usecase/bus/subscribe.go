package bus

import (
	"slices"
	"sync"

	"github.com/m-mizutani/meshsim/pkg/model"
)

// Subscribe registers listener and returns a function that removes it. The
// returned function may be called any number of times, including from inside
// a listener.
func (b *Bus) Subscribe(listener Listener) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.listeners = append(b.listeners, subscription{id: id, fn: listener})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.listeners = slices.DeleteFunc(b.listeners, func(s subscription) bool {
				return s.id == id
			})
		})
	}
}

// notify calls a snapshot of the listeners without holding the lock
func (b *Bus) notify(msg *model.Message) {
	b.mu.RLock()
	listeners := slices.Clone(b.listeners)
	b.mu.RUnlock()

	for _, s := range listeners {
		s.fn(msg.Clone())
	}
}
