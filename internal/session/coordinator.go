package session

import (
	"context"
	"sync"
	"time"

	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
)

// Ticket identifies one request's claim on a session view. A ticket whose
// generation is no longer the view's latest is superseded.
type Ticket struct {
	SessionID   string
	View        models.View
	Fingerprint string
	Generation  uint64
}

// Anonymous reports whether the request carried no session id.
func (t Ticket) Anonymous() bool { return t.SessionID == "" }

// stateKey scopes a state machine to one view of a session, so a detail
// panel request never supersedes the cart panel.
type stateKey struct {
	session string
	view    models.View
}

type sessionState struct {
	state       models.RequestState
	generation  uint64
	fingerprint string
	last        models.RequestState
	touched     time.Time
}

// Coordinator tracks one request state machine per session view:
// Idle -> Fetching -> {Merged | Degraded} -> Idle. Fallback notices are
// claimed per session and cart, across views.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[stateKey]*sessionState
	notices  NoticeStore
	idleTTL  time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewCoordinator creates a coordinator. Sessions untouched for idleTTL are
// forgotten by Sweep; idleTTL <= 0 defaults to one hour.
func NewCoordinator(notices NoticeStore, idleTTL time.Duration, log *logger.Logger) *Coordinator {
	if notices == nil {
		notices = NewMemoryNoticeStore(idleTTL)
	}
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &Coordinator{
		sessions: make(map[stateKey]*sessionState),
		notices:  notices,
		idleTTL:  idleTTL,
		now:      time.Now,
		log:      log.With("component", "SessionCoordinator"),
	}
}

// Begin moves the session view to Fetching for fingerprint and supersedes
// any request already in flight for that view.
func (c *Coordinator) Begin(sessionID string, view models.View, fingerprint string) Ticket {
	t := Ticket{SessionID: sessionID, View: view, Fingerprint: fingerprint}
	if sessionID == "" {
		return t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := stateKey{session: sessionID, view: view}
	s, ok := c.sessions[key]
	if !ok {
		s = &sessionState{state: models.StateIdle, last: models.StateIdle}
		c.sessions[key] = s
	}
	if s.state == models.StateFetching && s.fingerprint != fingerprint {
		c.log.Debug("Superseding in-flight request", "session_id", sessionID, "view", view, "generation", s.generation)
	}
	s.generation++
	s.state = models.StateFetching
	s.fingerprint = fingerprint
	s.touched = c.now()
	t.Generation = s.generation
	return t
}

// Finish completes ticket with Merged or Degraded and returns the session to
// Idle. It returns false, changing nothing, when the ticket was superseded.
func (c *Coordinator) Finish(t Ticket, degraded bool) (models.RequestState, bool) {
	outcome := models.StateMerged
	if degraded {
		outcome = models.StateDegraded
	}
	if t.Anonymous() {
		return outcome, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[stateKey{session: t.SessionID, view: t.View}]
	if !ok || s.generation != t.Generation {
		return outcome, false
	}
	s.last = outcome
	s.state = models.StateIdle
	s.touched = c.now()
	return outcome, true
}

// ClaimNotice reports whether the caller should show the fallback notice
// for t's cart. Anonymous callers always show it since there is nothing to
// scope the claim to. Store errors suppress the notice.
func (c *Coordinator) ClaimNotice(ctx context.Context, t Ticket) bool {
	if t.Anonymous() {
		return true
	}
	ok, err := c.notices.Claim(ctx, t.SessionID, t.Fingerprint)
	if err != nil {
		c.log.Warn("Failed to claim fallback notice", "session_id", t.SessionID, "error", err)
		return false
	}
	return ok
}

// State returns the session view's current state and the outcome of its
// last completed request.
func (c *Coordinator) State(sessionID string, view models.View) (current, last models.RequestState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[stateKey{session: sessionID, view: view}]
	if !ok {
		return models.StateIdle, models.StateIdle
	}
	return s.state, s.last
}

// Sweep forgets idle sessions older than the idle TTL.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	removed := 0
	for key, s := range c.sessions {
		if s.state != models.StateFetching && now.Sub(s.touched) >= c.idleTTL {
			delete(c.sessions, key)
			removed++
		}
	}
	c.mu.Unlock()

	if m, ok := c.notices.(*MemoryNoticeStore); ok {
		removed += m.Sweep(now)
	}
	return removed
}

// Serve sweeps periodically until ctx is done. It satisfies suture.Service.
func (c *Coordinator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.log.Debug("Swept idle sessions", "removed", n)
			}
		}
	}
}

func (c *Coordinator) String() string { return "session-sweeper" }
