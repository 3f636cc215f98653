// Package session holds the signed-in user's authorization snapshot for a
// client process and tells interested parties when it changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rolegate/rolegate/internal/rbac"
)

var (
	// ErrNoSession is returned by persisters when no durable copy exists.
	ErrNoSession = errors.New("session: no stored session")
	// ErrCorrupt is returned by persisters when the durable copy cannot be
	// decoded.
	ErrCorrupt = errors.New("session: corrupt stored session")
	// ErrInvalidUser rejects sign-in payloads without a usable identity.
	ErrInvalidUser = errors.New("session: invalid user")
)

// User is the sign-in payload kept by the store.
type User = rbac.Identity

// State is an immutable snapshot of the store.
type State struct {
	User *User
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.User != nil
}

// Principal returns the evaluator view of the state, nil when anonymous.
func (s State) Principal() *rbac.Principal {
	return s.User.Principal()
}

// Persister keeps a durable copy of the signed-in user.
type Persister interface {
	Load(ctx context.Context) (*User, error)
	Save(ctx context.Context, user *User) error
	Clear(ctx context.Context) error
}

// Listener is called after every state transition.
type Listener func(State)

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// Store is the client-side session holder. Reads never block. Writes are
// serialised; listeners run one transition at a time, in order, outside the
// write lock. A listener may call SetUser or ClearAuth: the nested
// transition is applied at once and delivered after the current round.
type Store struct {
	persister Persister
	logger    *slog.Logger

	state atomic.Pointer[State]

	writeMu sync.Mutex

	notifyMu   sync.Mutex
	pending    []State
	delivering bool

	subMu sync.Mutex
	subs  []*subscription
}

// New returns an anonymous store. A nil persister keeps state in memory
// only.
func New(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persister: persister, logger: logger}
	s.state.Store(&State{})
	return s
}

// State returns a copy of the current snapshot.
func (s *Store) State() State {
	return s.state.Load().clone()
}

func (st State) clone() State {
	if st.User != nil {
		st.User = cloneUser(st.User)
	}
	return st
}

// Principal returns the evaluator view of the current user.
func (s *Store) Principal() *rbac.Principal {
	return s.State().Principal()
}

// Restore loads the durable copy, if any. A corrupt copy is removed and the
// store stays anonymous; only persister I/O failures are returned.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.writeMu.Lock()
	user, err := s.persister.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSession):
		s.writeMu.Unlock()
		return nil
	case errors.Is(err, ErrCorrupt):
		s.discard(ctx, err)
		s.writeMu.Unlock()
		return nil
	case err != nil:
		s.writeMu.Unlock()
		return fmt.Errorf("session: restore: %w", err)
	}
	if err := validateUser(user); err != nil {
		s.discard(ctx, err)
		s.writeMu.Unlock()
		return nil
	}
	s.commit(State{User: cloneUser(user)})
	s.writeMu.Unlock()

	s.flush()
	return nil
}

func (s *Store) discard(ctx context.Context, cause error) {
	s.logger.Warn("session discarding stored copy", slog.Any("error", cause))
	if err := s.persister.Clear(ctx); err != nil {
		s.logger.Warn("session clear stored copy", slog.Any("error", err))
	}
}

// SetUser replaces the signed-in user, persists it and notifies listeners.
// The in-memory state changes even when persisting fails; the error is
// returned so callers can warn that the session will not survive a restart.
func (s *Store) SetUser(ctx context.Context, user *User) error {
	if err := validateUser(user); err != nil {
		return err
	}
	next := cloneUser(user)

	s.writeMu.Lock()
	var persistErr error
	if s.persister != nil {
		if err := s.persister.Save(ctx, cloneUser(next)); err != nil {
			persistErr = fmt.Errorf("session: persist: %w", err)
		}
	}
	s.commit(State{User: next})
	s.writeMu.Unlock()

	s.flush()
	return persistErr
}

// ClearAuth signs the user out and removes the durable copy. Listeners are
// notified only when a user was signed in.
func (s *Store) ClearAuth(ctx context.Context) error {
	s.writeMu.Lock()
	var persistErr error
	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			persistErr = fmt.Errorf("session: clear: %w", err)
		}
	}
	if s.state.Load().Authenticated() {
		s.commit(State{})
	}
	s.writeMu.Unlock()

	s.flush()
	return persistErr
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent and may be called from inside a
// listener; a listener removed mid-notification is not called again in
// that round.
func (s *Store) Subscribe(fn Listener) func() {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	return func() {
		if !sub.active.Swap(false) {
			return
		}
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, candidate := range s.subs {
			if candidate == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				break
			}
		}
	}
}

// commit publishes next and queues it for listeners. It must be called with
// writeMu held so queue order matches write order.
func (s *Store) commit(next State) {
	s.state.Store(&next)

	s.notifyMu.Lock()
	s.pending = append(s.pending, next)
	s.notifyMu.Unlock()
}

// flush delivers queued transitions. Only one goroutine delivers at a time;
// others, including listeners that write, leave their transitions queued
// for it.
func (s *Store) flush() {
	s.notifyMu.Lock()
	if s.delivering {
		s.notifyMu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.notifyMu.Unlock()

		s.deliver(next)

		s.notifyMu.Lock()
	}
	s.delivering = false
	s.notifyMu.Unlock()
}

func (s *Store) deliver(next State) {
	s.subMu.Lock()
	round := make([]*subscription, len(s.subs))
	copy(round, s.subs)
	s.subMu.Unlock()

	for _, sub := range round {
		if sub.active.Load() {
			sub.fn(next.clone())
		}
	}
}

func validateUser(user *User) error {
	if user == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidUser)
	}
	if user.Principal() == nil {
		return fmt.Errorf("%w: user id %q", ErrInvalidUser, user.UserID)
	}
	return nil
}

func cloneUser(user *User) *User {
	out := *user
	out.Roles = append([]string(nil), user.Roles...)
	out.Permissions = append([]string(nil), user.Permissions...)
	return &out
}
