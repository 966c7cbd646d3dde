package signaling

import "sync"

// lanes runs submitted work serially per key and concurrently across keys.
// A key's goroutine exists only while it has queued work.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

func (l *lanes) submit(key string, fn func()) {
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	l.mu.Unlock()
	if !running {
		go l.drain(key)
	}
}

func (l *lanes) drain(key string) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()
		fn()
	}
}

// active returns the number of keys with a running lane.
func (l *lanes) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
