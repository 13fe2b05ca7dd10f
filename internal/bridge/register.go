package bridge

import (
	"context"
	"fmt"
	"sync"
)

// RegistrationState tracks the builtin player registration lifecycle.
type RegistrationState int

const (
	RegIdle RegistrationState = iota
	RegRegistering
	RegRegistered
	RegFailed
)

// RegisterClient is the one server call registration needs.
type RegisterClient interface {
	RegisterBuiltinPlayer(ctx context.Context, playerID, name string) error
}

// Registrar serializes builtin player registration: a single in-flight
// attempt, with concurrent callers queued on its outcome. Registration
// failure is the one fatal error in this subsystem; nothing downstream
// works without a registered player.
type Registrar struct {
	Client     RegisterClient
	PlayerID   string
	PlayerName string

	mu      sync.Mutex
	state   RegistrationState
	lastErr error
	waiters []chan error
}

// State .
func (r *Registrar) State() RegistrationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset drops back to idle. Called after a reconnect, when the old
// session's registration no longer holds.
func (r *Registrar) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RegRegistering {
		r.state = RegIdle
		r.lastErr = nil
	}
}

// Ensure registers the builtin player exactly once. Callers arriving
// while an attempt is in flight block on that attempt's outcome rather
// than racing a duplicate registration.
func (r *Registrar) Ensure(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case RegRegistered:
		r.mu.Unlock()
		return nil
	case RegFailed:
		err := r.lastErr
		r.mu.Unlock()
		return err
	case RegRegistering:
		wait := make(chan error, 1)
		r.waiters = append(r.waiters, wait)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-wait:
			return err
		}
	}

	r.state = RegRegistering
	r.mu.Unlock()

	err := r.Client.RegisterBuiltinPlayer(ctx, r.PlayerID, r.PlayerName)
	if err != nil {
		err = fmt.Errorf("Ensure registration error: %w", err)
	}

	r.mu.Lock()
	if err != nil {
		r.state = RegFailed
		r.lastErr = err
	} else {
		r.state = RegRegistered
		r.lastErr = nil
	}
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}

	return err
}
