package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staticms/authcore/internal/broadcast"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/session"
	"golang.org/x/sync/singleflight"
)

const (
	// Cooldown is the minimum gap between two refresh attempts in one context
	Cooldown = 5 * time.Second

	// LockTTL is how long an advisory cross-context lock stays valid when its
	// owner never confirms success or failure
	LockTTL = 10 * time.Second

	// WaitTimeout bounds how long a caller waits on another caller's
	// in-flight refresh before giving up
	WaitTimeout = 10 * time.Second
)

var (
	// ErrRefreshFailed is the sticky latch: once a refresh fails, every
	// subsequent attempt rejects immediately until Reset after a fresh login
	ErrRefreshFailed = errors.New("refresh previously failed; sign in again")

	// ErrCooldown rejects attempts made too soon after the previous one
	ErrCooldown = errors.New("refresh attempted within cooldown window")

	// ErrLockHeld yields to another context that announced a recent refresh
	ErrLockHeld = errors.New("another context holds the refresh lock")

	// ErrWaitTimeout is returned when an in-flight refresh takes too long to
	// share its result
	ErrWaitTimeout = errors.New("timed out waiting for in-flight refresh")
)

// Client performs the actual refresh round-trips: the refresh endpoint
// (identity carried by the refresh cookie) and the user-info endpoint that
// yields the updated session.
type Client interface {
	Refresh(ctx context.Context) error
	FetchSession(ctx context.Context) (*session.Session, error)
}

// Coordinator performs token refresh at most once per cooldown window within
// one execution context, shares one in-flight refresh among all concurrent
// callers, and yields to other contexts via the advisory broadcast lock.
// One Coordinator instance corresponds to one execution context; contexts
// coordinate only through the shared bus.
type Coordinator struct {
	id     string
	client Client
	bus    *broadcast.Bus

	// onSession refreshes in-memory bearer headers after a successful refresh
	onSession func(*session.Session)

	// onInvalidate drops cached read state so pending reads re-fetch with the
	// new credential
	onInvalidate func()

	group singleflight.Group

	mu              sync.Mutex
	lastRefreshTime time.Time
	refreshFailed   bool
	isRedirecting   bool
	foreignLockAt   time.Time
	foreignLockID   string

	unsubscribe func()
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSessionCallback sets the session-update callback
func WithSessionCallback(fn func(*session.Session)) Option {
	return func(c *Coordinator) { c.onSession = fn }
}

// WithInvalidateCallback sets the cached-read invalidation callback
func WithInvalidateCallback(fn func()) Option {
	return func(c *Coordinator) { c.onInvalidate = fn }
}

// NewCoordinator creates a coordinator for one execution context and starts
// listening for other contexts' announcements on the bus.
func NewCoordinator(client Client, bus *broadcast.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:     uuid.NewString(),
		client: client,
		bus:    bus,
	}
	for _, opt := range opts {
		opt(c)
	}

	ch, cancel := bus.Subscribe()
	c.unsubscribe = cancel
	go c.listen(ch)

	return c
}

// listen tracks other contexts' lock announcements. A success or failure
// confirmation releases the advisory lock early; otherwise it ages out after
// LockTTL.
func (c *Coordinator) listen(ch <-chan broadcast.Message) {
	for msg := range ch {
		if msg.OwnerID == c.id {
			continue
		}

		c.mu.Lock()
		switch msg.Kind {
		case broadcast.KindLock:
			c.foreignLockAt = msg.Timestamp
			c.foreignLockID = msg.OwnerID
		case broadcast.KindSuccess, broadcast.KindFailure:
			if msg.OwnerID == c.foreignLockID {
				c.foreignLockAt = time.Time{}
				c.foreignLockID = ""
			}
		}
		c.mu.Unlock()

		if msg.Kind == broadcast.KindSuccess && c.onInvalidate != nil {
			c.onInvalidate()
		}
	}
}

// Refresh refreshes the session, or returns why it will not. Concurrent
// callers within this context share a single network call and its result;
// waiters give up after WaitTimeout.
func (c *Coordinator) Refresh(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	if c.refreshFailed || c.isRedirecting {
		c.mu.Unlock()
		return nil, ErrRefreshFailed
	}
	c.mu.Unlock()

	resultCh := c.group.DoChan("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session.Session), nil
	case <-time.After(WaitTimeout):
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doRefresh runs at most once per in-flight window within this context
func (c *Coordinator) doRefresh(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	if !c.lastRefreshTime.IsZero() && time.Since(c.lastRefreshTime) < Cooldown {
		c.mu.Unlock()
		return nil, ErrCooldown
	}
	if c.foreignLockID != "" && time.Since(c.foreignLockAt) < LockTTL {
		// Advisory only: both contexts may still refresh if they race the
		// announcement, which the refresh endpoint must tolerate.
		c.mu.Unlock()
		return nil, ErrLockHeld
	}
	c.lastRefreshTime = time.Now()
	c.mu.Unlock()

	c.bus.Publish(broadcast.Message{
		Kind:      broadcast.KindLock,
		OwnerID:   c.id,
		Timestamp: time.Now(),
	})

	// The network call is shared by every waiter, so it must not die with the
	// caller that happened to initiate it. Detach from that caller's context
	// and bound the call with the coordinator's own timeout; the failure latch
	// is reserved for refreshes the upstream actually rejected.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), WaitTimeout)
	defer cancel()

	sess, err := c.refreshAndFetch(refreshCtx)
	if err != nil {
		c.mu.Lock()
		c.refreshFailed = true
		c.isRedirecting = true
		c.mu.Unlock()

		c.bus.Publish(broadcast.Message{
			Kind:      broadcast.KindFailure,
			OwnerID:   c.id,
			Timestamp: time.Now(),
		})

		log.LogErrorWithFields("refresh", "Refresh failed; latching until next login", map[string]any{
			"context": c.id,
			"error":   err.Error(),
		})
		return nil, err
	}

	if c.onSession != nil {
		c.onSession(sess)
	}

	c.bus.Publish(broadcast.Message{
		Kind:      broadcast.KindSuccess,
		OwnerID:   c.id,
		Timestamp: time.Now(),
	})

	if c.onInvalidate != nil {
		c.onInvalidate()
	}

	log.LogInfoWithFields("refresh", "Session refreshed", map[string]any{
		"context": c.id,
		"expires": sess.ExpiresAt,
	})
	return sess, nil
}

func (c *Coordinator) refreshAndFetch(ctx context.Context) (*session.Session, error) {
	if err := c.client.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh call failed: %w", err)
	}

	sess, err := c.client.FetchSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch refreshed session: %w", err)
	}
	return sess, nil
}

// Failed reports whether the sticky failure latch is set
func (c *Coordinator) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshFailed
}

// Reset clears the failure latch and cooldown after a fresh login
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshFailed = false
	c.isRedirecting = false
	c.lastRefreshTime = time.Time{}
}

// Close detaches the coordinator from the bus
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
