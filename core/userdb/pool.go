package userdb

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// acquireTimeout bounds how long a request waits for a free session
const acquireTimeout = 5 * time.Second

// Session is one pooled handle on the table
type Session struct {
	id    int
	table *Table
}

// Password returns the stored digest for name
func (s *Session) Password(name string) (string, bool) {
	return s.table.lookup(name)
}

// Register stores a new user
func (s *Session) Register(name, password string) error {
	digest, err := digestPassword(password)
	if err != nil {
		return err
	}
	return s.table.insert(name, digest)
}

// Pool hands out a fixed number of sessions. Verify blocks while all
// sessions are in use.
type Pool struct {
	sessions chan *Session
	size     int
	closed   atomic.Bool
	log      zerolog.Logger
}

// NewPool creates a pool of size sessions over table
func NewPool(table *Table, size int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		sessions: make(chan *Session, size),
		size:     size,
		log:      logger,
	}
	for i := 0; i < size; i++ {
		p.sessions <- &Session{id: i, table: table}
	}
	return p
}

// Acquire takes a session, waiting until one is free or ctx is done
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	select {
	case s := <-p.sessions:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.sessions <- s
}

// Free returns the number of idle sessions
func (p *Pool) Free() int {
	return len(p.sessions)
}

// Size returns the number of sessions
func (p *Pool) Size() int {
	return p.size
}

// Close makes further Acquire calls fail
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Verify checks a login or registers a new user. Empty credentials,
// a taken name on register and any store error all report false.
func (p *Pool) Verify(name, password string, login bool) bool {
	if name == "" || password == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()

	s, err := p.Acquire(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("user", name).Msg("credential session unavailable")
		return false
	}
	defer p.Release(s)

	if login {
		digest, ok := s.Password(name)
		if !ok || !checkPassword(digest, password) {
			p.log.Debug().Str("user", name).Msg("login rejected")
			return false
		}
		return true
	}

	if err := s.Register(name, password); err != nil {
		if errors.Is(err, ErrUserExists) {
			p.log.Debug().Str("user", name).Msg("user name taken")
		} else {
			p.log.Error().Err(err).Str("user", name).Msg("register failed")
		}
		return false
	}
	p.log.Info().Str("user", name).Msg("user registered")
	return true
}
