package services

import (
	"sync"

	"leadflow/internal/metrics"
)

// PairLocks serializes work per (user, company). Entries are reference
// counted and dropped when unused; when the table is full, new keys wait for
// a slot.
type PairLocks struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[string]*pairLock
	max   int
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func NewPairLocks(max int) *PairLocks {
	if max <= 0 {
		max = 10000
	}
	p := &PairLocks{locks: make(map[string]*pairLock), max: max}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func pairKey(userID, companyID string) string {
	return userID + "|" + companyID
}

// Lock blocks until the pair is free and returns the unlock function.
func (p *PairLocks) Lock(userID, companyID string) func() {
	key := pairKey(userID, companyID)

	p.mu.Lock()
	l, ok := p.locks[key]
	for !ok && len(p.locks) >= p.max {
		p.cond.Wait()
		l, ok = p.locks[key]
	}
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
		metrics.PairLocksInUse.Set(float64(len(p.locks)))
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			p.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(p.locks, key)
				metrics.PairLocksInUse.Set(float64(len(p.locks)))
				p.cond.Broadcast()
			}
			p.mu.Unlock()
		})
	}
}

// Len returns the number of live entries.
func (p *PairLocks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
