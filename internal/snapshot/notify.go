package snapshot

import (
	"sync"
)

type subCh = chan string // carries new ETags

var (
	mu   sync.Mutex
	subs = make(map[subCh]struct{})
)

// Subscribe registers a listener and returns its channel and an unsubscribe func.
// The channel holds at most one pending ETag; slow listeners see only the latest change.
func Subscribe() (<-chan string, func()) {
	ch := make(subCh, 1)
	mu.Lock()
	subs[ch] = struct{}{}
	mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			mu.Lock()
			delete(subs, ch)
			close(ch)
			mu.Unlock()
		})
	}
	return ch, unsub
}

// Subscribers returns the number of registered listeners.
func Subscribers() int {
	mu.Lock()
	defer mu.Unlock()
	return len(subs)
}

// publishUpdate notifies all listeners without blocking.
func publishUpdate(etag string) {
	mu.Lock()
	for ch := range subs {
		select {
		case ch <- etag:
		default:
			// drop the stale pending value and replace it
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- etag:
			default:
			}
		}
	}
	mu.Unlock()
}
