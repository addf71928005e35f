package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const lockShards = 64

// keyLocker hands out per-key exclusive locks with a bounded wait.  Keys
// are spread over shards so unrelated seats never contend on the same
// map mutex.  Each key is a buffered channel of size one; holding the
// token means holding the lock.
type keyLocker struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocker() *keyLocker {
	kl := &keyLocker{}
	for i := range kl.shards {
		kl.shards[i].locks = make(map[string]*keyLock)
	}
	return kl
}

func (kl *keyLocker) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &kl.shards[h.Sum32()%lockShards]
}

// Lock blocks until key is free, the timeout elapses (ErrLockTimeout) or
// ctx is done.  The returned func releases the lock.
func (kl *keyLocker) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	sh := kl.shard(key)
	sh.mu.Lock()
	l, ok := sh.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		sh.locks[key] = l
	}
	l.refs++
	sh.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			kl.release(sh, key, l)
		}, nil
	case <-timer.C:
		kl.release(sh, key, l)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		kl.release(sh, key, l)
		return nil, ctx.Err()
	}
}

// release drops a reference and forgets the key once nobody waits on it.
func (kl *keyLocker) release(sh *lockShard, key string, l *keyLock) {
	sh.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(sh.locks, key)
	}
	sh.mu.Unlock()
}
