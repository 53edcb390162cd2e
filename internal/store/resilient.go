package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// ResilientConfig bounds calls made through Resilient.
type ResilientConfig struct {
	// Timeout applies to every call.
	Timeout time.Duration
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// Resilient decorates a Store with a per-call timeout and a circuit breaker.
// ErrNotFound and ErrDuplicate are normal outcomes and never trip the breaker;
// every other failure is reported as ErrUnavailable.
type Resilient struct {
	next    Store
	cb      *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

var _ Store = (*Resilient)(nil)

// NewResilient wraps next.
func NewResilient(next Store, cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "datastore",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state change")
			metrics.StoreBreakerState.Set(stateValue(to))
			metrics.StoreBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})

	return &Resilient{next: next, cb: cb, timeout: cfg.Timeout}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// run executes fn under the timeout and the breaker.
func (r *Resilient) run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// FindUserByID implements Store.
func (r *Resilient) FindUserByID(ctx context.Context, id uint) (*User, error) {
	var user *User
	err := r.run(ctx, func(ctx context.Context) (err error) {
		user, err = r.next.FindUserByID(ctx, id)
		return err
	})
	return user, err
}

// FindUserByUsername implements Store.
func (r *Resilient) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var user *User
	err := r.run(ctx, func(ctx context.Context) (err error) {
		user, err = r.next.FindUserByUsername(ctx, username)
		return err
	})
	return user, err
}

// CreateUser implements Store.
func (r *Resilient) CreateUser(ctx context.Context, user *User) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.CreateUser(ctx, user)
	})
}

// SaveUser implements Store.
func (r *Resilient) SaveUser(ctx context.Context, user *User) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.SaveUser(ctx, user)
	})
}

// DeleteUser implements Store.
func (r *Resilient) DeleteUser(ctx context.Context, id uint) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.DeleteUser(ctx, id)
	})
}

// FindChannel implements Store.
func (r *Resilient) FindChannel(ctx context.Context, name string) (*Channel, error) {
	var channel *Channel
	err := r.run(ctx, func(ctx context.Context) (err error) {
		channel, err = r.next.FindChannel(ctx, name)
		return err
	})
	return channel, err
}

// CreateChannel implements Store.
func (r *Resilient) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	var channel *Channel
	err := r.run(ctx, func(ctx context.Context) (err error) {
		channel, err = r.next.CreateChannel(ctx, name)
		return err
	})
	return channel, err
}

// ChannelNamesOf implements Store.
func (r *Resilient) ChannelNamesOf(ctx context.Context, userID uint) ([]string, error) {
	var names []string
	err := r.run(ctx, func(ctx context.Context) (err error) {
		names, err = r.next.ChannelNamesOf(ctx, userID)
		return err
	})
	return names, err
}

// IsMember implements Store.
func (r *Resilient) IsMember(ctx context.Context, userID, channelID uint) (bool, error) {
	var member bool
	err := r.run(ctx, func(ctx context.Context) (err error) {
		member, err = r.next.IsMember(ctx, userID, channelID)
		return err
	})
	return member, err
}

// AddMember implements Store.
func (r *Resilient) AddMember(ctx context.Context, userID, channelID uint) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.AddMember(ctx, userID, channelID)
	})
}

// RemoveMember implements Store.
func (r *Resilient) RemoveMember(ctx context.Context, userID, channelID uint) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.RemoveMember(ctx, userID, channelID)
	})
}

// SaveMessage implements Store.
func (r *Resilient) SaveMessage(ctx context.Context, msg *Message) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.next.SaveMessage(ctx, msg)
	})
}
