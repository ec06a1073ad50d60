package batch

import (
	"context"
	"sync"
)

// tokenLocks serializes work per batch token. Waiting honours context
// cancellation, and idle tokens are dropped from the map.
type tokenLocks struct {
	mu    sync.Mutex
	locks map[string]*tokenLock
}

type tokenLock struct {
	sem  chan struct{}
	refs int
}

func (l *tokenLocks) acquire(ctx context.Context, token string) (release func(), err error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*tokenLock)
	}
	tl, ok := l.locks[token]
	if !ok {
		tl = &tokenLock{sem: make(chan struct{}, 1)}
		l.locks[token] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
		return func() {
			<-tl.sem
			l.drop(token, tl)
		}, nil
	case <-ctx.Done():
		l.drop(token, tl)
		return nil, ctx.Err()
	}
}

func (l *tokenLocks) drop(token string, tl *tokenLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, token)
	}
}

func (l *tokenLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
