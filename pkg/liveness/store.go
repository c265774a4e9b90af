package liveness

import (
	"hash/maphash"
	"sync"
	"time"
)

// DefaultShards is the number of store shards.
const DefaultShards = 32

// Session is the liveness evidence gathered for one session id.
type Session struct {
	ID         string
	Created    time.Time
	Started    time.Time // capture time of the first accepted sample
	LastUpdate time.Time
	Samples    []FrameSample

	BlinkSeen        bool
	SmileSeen        bool
	HeadMovementSeen bool

	// Passed never reverts to false once set.
	Passed bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, Created: now, LastUpdate: now}
}

// Seen reports whether action a has been detected in this session.
func (s *Session) Seen(a Action) bool {
	switch a {
	case ActionBlink:
		return s.BlinkSeen
	case ActionSmile:
		return s.SmileSeen
	case ActionHeadMovement:
		return s.HeadMovementSeen
	}
	return false
}

func (s *Session) mark(a Action) {
	switch a {
	case ActionBlink:
		s.BlinkSeen = true
	case ActionSmile:
		s.SmileSeen = true
	case ActionHeadMovement:
		s.HeadMovementSeen = true
	}
}

// SeenActions lists detected actions in a fixed order.
func (s *Session) SeenActions() []Action {
	var out []Action
	for _, a := range []Action{ActionBlink, ActionSmile, ActionHeadMovement} {
		if s.Seen(a) {
			out = append(out, a)
		}
	}
	return out
}

// append adds a sample, drops samples older than maxAge, then caps the
// buffer at maxFrames by discarding the oldest.
func (s *Session) append(sample FrameSample, maxAge time.Duration, maxFrames int) {
	if len(s.Samples) == 0 && s.Started.IsZero() {
		s.Started = sample.At
	}
	s.Samples = append(s.Samples, sample)

	if maxAge > 0 {
		keep := s.Samples[:0]
		for _, fs := range s.Samples {
			if sample.At.Sub(fs.At) <= maxAge {
				keep = append(keep, fs)
			}
		}
		s.Samples = keep
	}

	if maxFrames > 0 && len(s.Samples) > maxFrames {
		drop := len(s.Samples) - maxFrames
		s.Samples = append(s.Samples[:0], s.Samples[drop:]...)
	}
}

func (s *Session) clone() Session {
	cp := *s
	cp.Samples = make([]FrameSample, len(s.Samples))
	copy(cp.Samples, s.Samples)
	return cp
}

// entry guards one session. refs counts goroutines holding or waiting
// on mu and is only touched under the shard lock; the sweeper skips
// entries with refs > 0 so it never needs mu.
type entry struct {
	mu   sync.Mutex
	sess *Session
	dead bool
	refs int
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

// Store is a sharded session map. Calls for different ids never share
// a session lock; calls for the same id are serialized.
type Store struct {
	shards []*shard
	seed   maphash.Seed
	// idle is the lazy-expiry horizon: a session untouched for longer is
	// replaced with a fresh one on next access.
	idle time.Duration
	// onExpire is called, under the session lock, when Do replaces a
	// lazily expired session.
	onExpire func()
}

// NewStore creates a store with n shards (DefaultShards when n <= 0).
func NewStore(n int, idle time.Duration) *Store {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store{
		shards: make([]*shard, n),
		seed:   maphash.MakeSeed(),
		idle:   idle,
	}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := maphash.String(s.seed, id)
	return s.shards[h%uint64(len(s.shards))]
}

// acquire returns the locked entry for id, creating it when create is
// set. It returns nil if the id is absent and create is false.
func (s *Store) acquire(id string, now time.Time, create bool) (*shard, *entry, bool) {
	sh := s.shardFor(id)
	for {
		created := false
		sh.mu.Lock()
		e, ok := sh.m[id]
		if !ok {
			if !create {
				sh.mu.Unlock()
				return sh, nil, false
			}
			e = &entry{sess: newSession(id, now)}
			sh.m[id] = e
			created = true
		}
		e.refs++
		sh.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			s.release(sh, e)
			continue
		}
		return sh, e, created
	}
}

func (s *Store) release(sh *shard, e *entry) {
	sh.mu.Lock()
	e.refs--
	sh.mu.Unlock()
}

// remove must be called with e.mu held.
func (s *Store) remove(sh *shard, id string, e *entry) {
	e.dead = true
	sh.mu.Lock()
	if sh.m[id] == e {
		delete(sh.m, id)
	}
	e.refs--
	sh.mu.Unlock()
}

// Do runs fn on the session for id under its lock, creating the
// session if needed. created is true for a new or lazily expired
// session. When fn returns true the session is deleted.
func (s *Store) Do(id string, now time.Time, fn func(sess *Session, created bool) (remove bool)) {
	sh, e, created := s.acquire(id, now, true)

	if !created && s.idle > 0 && now.Sub(e.sess.LastUpdate) > s.idle {
		e.sess = newSession(id, now)
		created = true
		if s.onExpire != nil {
			s.onExpire()
		}
	}

	if fn(e.sess, created) {
		s.remove(sh, id, e)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	s.release(sh, e)
}

// Get returns a copy of the session for id.
func (s *Store) Get(id string) (Session, bool) {
	sh, e, _ := s.acquire(id, time.Time{}, false)
	if e == nil {
		return Session{}, false
	}
	cp := e.sess.clone()
	e.mu.Unlock()
	s.release(sh, e)
	return cp, true
}

// Delete removes the session for id. It reports whether one existed.
func (s *Store) Delete(id string) bool {
	sh, e, _ := s.acquire(id, time.Time{}, false)
	if e == nil {
		return false
	}
	s.remove(sh, id, e)
	e.mu.Unlock()
	return true
}

// Sweep deletes idle sessions whose last update is older than maxIdle
// and returns how many were removed. Sessions in use are skipped.
func (s *Store) Sweep(now time.Time, maxIdle time.Duration) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.m {
			if e.refs > 0 {
				continue
			}
			if now.Sub(e.sess.LastUpdate) > maxIdle {
				e.dead = true
				delete(sh.m, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
