// Package session holds the single "server is live" session of the bot.
//
// There is at most one session per process. Start and End are serialized by
// the Controller; the Discord side effects (announcement post, edits) happen
// outside of the lock using the values returned here.
package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrPermissionDenied = errors.New("session: permission denied")

type State struct {
	ID                    string
	StartedAt             *time.Time
	StartedBy             string
	AnnouncementID        string
	AnnouncementChannelID string
}

// Summary is what End hands back after clearing the state.
type Summary struct {
	State    State
	Duration time.Duration
	// Known is false when no start time was recorded.
	Known bool
}

type Controller struct {
	roleID string
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	state  State
	active bool
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(roleID string, opts ...Option) *Controller {
	c := &Controller{roleID: roleID, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authorized reports whether roles include the session role.
func (c *Controller) Authorized(roles []string) bool {
	return c.roleID != "" && slices.Contains(roles, c.roleID)
}

// Start begins a new session, replacing any running one.
func (c *Controller) Start(roles []string, startedBy string) (State, error) {
	if !c.Authorized(roles) {
		return State{}, ErrPermissionDenied
	}
	now := c.now()
	st := State{ID: uuid.NewString(), StartedAt: &now, StartedBy: startedBy}

	c.mu.Lock()
	prev, wasActive := c.state, c.active
	c.state, c.active = st, true
	c.mu.Unlock()

	if wasActive {
		c.logger.Info("session replaced", zap.String("previous", prev.ID), zap.String("session_id", st.ID))
	}
	c.logger.Info("session started", zap.String("session_id", st.ID), zap.String("user", startedBy))
	return st, nil
}

// Attach records the announcement message of session id. It reports false
// when another Start or an End happened in the meantime.
func (c *Controller) Attach(id, channelID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.state.ID != id {
		return false
	}
	c.state.AnnouncementChannelID = channelID
	c.state.AnnouncementID = messageID
	return true
}

// End clears the session and returns what it was. Ending while idle is allowed
// and yields a Summary with Known=false.
func (c *Controller) End(roles []string) (Summary, error) {
	if !c.Authorized(roles) {
		return Summary{}, ErrPermissionDenied
	}
	now := c.now()

	c.mu.Lock()
	st, wasActive := c.state, c.active
	c.state, c.active = State{}, false
	c.mu.Unlock()

	sum := Summary{State: st}
	if wasActive && st.StartedAt != nil {
		sum.Duration = now.Sub(*st.StartedAt)
		sum.Known = true
	}
	c.logger.Info("session ended", zap.String("session_id", st.ID), zap.Bool("known", sum.Known), zap.Duration("duration", sum.Duration))
	return sum, nil
}

func (c *Controller) Current() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.active
}
