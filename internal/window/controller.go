package window

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// State is the controller's execution state.
type State string

const (
	// StateInactive means outside the execution window; no tasks start.
	StateInactive State = "inactive"
	// StateActive means inside the window and free to start tasks.
	StateActive State = "active"
	// StatePaused is a manual hold; tasks in flight finish, none start.
	StatePaused State = "paused"
	// StateMaintenance is a manual hold for operator work on the repo.
	StateMaintenance State = "maintenance"
)

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StateInactive, StateActive, StatePaused, StateMaintenance:
		return true
	default:
		return false
	}
}

// Observer is notified after every state transition with the time the
// transition happened. A panicking observer is recovered and logged;
// it never takes down the poll loop.
type Observer func(from, to State, at time.Time)

// Controller runs the execution-window state machine. Scheduled
// transitions come from a poll loop; manual pause and maintenance
// transitions are immediate and sticky, staying in force across window
// boundaries until explicitly lifted. When both are requested the most
// recent call wins.
type Controller struct {
	window *TimeWindow
	cfg    config.WindowConfig

	mu             sync.RWMutex
	state          State
	manual         bool
	ignoreSchedule bool
	sessionStart time.Time
	dailyChanges int
	quotaDate    string
	observers    []Observer

	now func() time.Time
}

// NewController creates a controller from window configuration.
func NewController(cfg config.WindowConfig) (*Controller, error) {
	w, err := ParseWindow(cfg.Start, cfg.End, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	return &Controller{
		window: w,
		cfg:    cfg,
		state:  StateInactive,
		now:    time.Now,
	}, nil
}

// Window returns the configured time window.
func (c *Controller) Window() *TimeWindow {
	return c.window
}

// Subscribe registers an observer for state transitions.
func (c *Controller) Subscribe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Run polls the clock until the context is cancelled, applying scheduled
// transitions. One evaluation happens immediately on entry.
func (c *Controller) Run(ctx context.Context) {
	c.Evaluate()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evaluate()
		}
	}
}

// Evaluate applies one scheduled transition check against the clock.
// Manual overrides are left untouched.
func (c *Controller) Evaluate() {
	now := c.now()

	c.mu.Lock()
	c.resetQuotaLocked(now)

	if c.manual {
		c.mu.Unlock()
		return
	}

	from, to, observers := c.transitionLocked(c.desiredStateLocked(now), now)
	c.mu.Unlock()

	notify(observers, from, to, now)
}

// desiredStateLocked recomputes the scheduled state. A disabled window
// means autonomous execution is switched off entirely; an exhausted daily
// quota or a spent session cap deactivates until the next reset.
func (c *Controller) desiredStateLocked(now time.Time) State {
	open := c.ignoreSchedule || (c.cfg.Enabled && c.window.Contains(now))
	if !open {
		return StateInactive
	}
	if c.cfg.MaxDailyChanges > 0 && c.dailyChanges >= c.cfg.MaxDailyChanges {
		return StateInactive
	}
	if c.cfg.MaxSessionDuration > 0 && !c.sessionStart.IsZero() &&
		now.Sub(c.sessionStart) >= c.cfg.MaxSessionDuration {
		return StateInactive
	}
	return StateActive
}

// IgnoreSchedule makes the controller treat the window as always open,
// regardless of the configured hours or the enabled flag. Quota and
// session limits still apply. Backs the run command's ignore-window flag.
func (c *Controller) IgnoreSchedule() {
	c.mu.Lock()
	c.ignoreSchedule = true
	c.mu.Unlock()
	c.Evaluate()
}

// transitionLocked moves to the given state and returns the transition for
// observer notification outside the lock. No-op transitions return from==to.
func (c *Controller) transitionLocked(to State, now time.Time) (State, State, []Observer) {
	from := c.state
	if from == to {
		return from, to, nil
	}

	c.state = to
	switch {
	case to == StateActive && from == StateInactive:
		c.sessionStart = now
		log.Printf("[window] session started (window %s)", c.window)
	case to == StateInactive:
		c.sessionStart = time.Time{}
		log.Printf("[window] session ended")
	default:
		log.Printf("[window] state %s -> %s", from, to)
	}

	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	return from, to, observers
}

func notify(observers []Observer, from, to State, at time.Time) {
	if from == to {
		return
	}
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[window] observer panic on %s -> %s: %v", from, to, r)
				}
			}()
			fn(from, to, at)
		}()
	}
}

// Pause manually holds execution. Effective immediately and sticky until
// Resume.
func (c *Controller) Pause() {
	now := c.now()
	c.mu.Lock()
	c.manual = true
	from, to, observers := c.transitionLocked(StatePaused, now)
	c.mu.Unlock()
	notify(observers, from, to, now)
}

// EnterMaintenance manually holds execution for operator work. A pending
// pause is superseded.
func (c *Controller) EnterMaintenance() {
	now := c.now()
	c.mu.Lock()
	c.manual = true
	from, to, observers := c.transitionLocked(StateMaintenance, now)
	c.mu.Unlock()
	notify(observers, from, to, now)
}

// Resume lifts any manual hold and immediately re-evaluates the schedule.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.manual = false
	c.mu.Unlock()
	c.Evaluate()
}

// ExitMaintenance lifts a maintenance hold and re-evaluates the schedule.
// A pause that superseded the maintenance hold stays in force.
func (c *Controller) ExitMaintenance() {
	c.mu.Lock()
	if c.state != StateMaintenance {
		c.mu.Unlock()
		return
	}
	c.manual = false
	c.mu.Unlock()
	c.Evaluate()
}

// State returns the current execution state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CanStartTask reports whether a new task may start now. The reason is a
// human-readable explanation when the answer is no.
func (c *Controller) CanStartTask(task *models.Task) (bool, string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetQuotaLocked(now)

	if c.state != StateActive {
		return false, fmt.Sprintf("Execution window is not active (state: %s)", c.state)
	}
	if c.cfg.MaxTaskDuration > 0 && task.EstimatedDuration > c.cfg.MaxTaskDuration {
		return false, fmt.Sprintf("Task duration %s exceeds limit %s",
			task.EstimatedDuration, c.cfg.MaxTaskDuration)
	}
	if c.cfg.MaxSessionDuration > 0 && !c.sessionStart.IsZero() {
		if now.Sub(c.sessionStart) >= c.cfg.MaxSessionDuration {
			return false, fmt.Sprintf("Session duration limit reached (%s)", c.cfg.MaxSessionDuration)
		}
	}
	if c.cfg.MaxDailyChanges > 0 && c.dailyChanges >= c.cfg.MaxDailyChanges {
		return false, fmt.Sprintf("Daily change limit reached: %d/%d",
			c.dailyChanges, c.cfg.MaxDailyChanges)
	}
	return true, ""
}

// RegisterTaskCompletion records a finished task. Only tasks that changed
// code count against the daily quota.
func (c *Controller) RegisterTaskCompletion(madeChanges bool) {
	if !madeChanges {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetQuotaLocked(now)
	c.dailyChanges++
	log.Printf("[window] daily changes: %d/%d", c.dailyChanges, c.cfg.MaxDailyChanges)
}

// resetQuotaLocked zeroes the daily counter when the calendar date in the
// window's timezone has advanced.
func (c *Controller) resetQuotaLocked(now time.Time) {
	date := now.In(c.window.Location()).Format("2006-01-02")
	if date != c.quotaDate {
		if c.quotaDate != "" && c.dailyChanges > 0 {
			log.Printf("[window] new day %s, daily change counter reset", date)
		}
		c.quotaDate = date
		c.dailyChanges = 0
	}
}

// TimeUntilNextWindow returns how long until the window next opens.
// Zero when already inside the window.
func (c *Controller) TimeUntilNextWindow() time.Duration {
	now := c.now()
	if c.window.Contains(now) {
		return 0
	}
	return c.window.NextStart(now).Sub(now)
}

// RemainingWindowTime returns how long the current window stays open.
// Zero when outside the window.
func (c *Controller) RemainingWindowTime() time.Duration {
	now := c.now()
	if !c.window.Contains(now) {
		return 0
	}
	return c.window.NextEnd(now).Sub(now)
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State           State         `json:"state"`
	InWindow        bool          `json:"in_window"`
	Window          string        `json:"window"`
	SessionElapsed  time.Duration `json:"session_elapsed"`
	DailyChanges    int           `json:"daily_changes"`
	MaxDailyChanges int           `json:"max_daily_changes"`
	UntilNextWindow time.Duration `json:"until_next_window"`
	RemainingWindow time.Duration `json:"remaining_window"`
}

// Status returns a snapshot for reporting.
func (c *Controller) Status() Status {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:           c.state,
		InWindow:        c.window.Contains(now),
		Window:          c.window.String(),
		DailyChanges:    c.dailyChanges,
		MaxDailyChanges: c.cfg.MaxDailyChanges,
	}
	if !c.sessionStart.IsZero() {
		st.SessionElapsed = now.Sub(c.sessionStart)
	}
	if st.InWindow {
		st.RemainingWindow = c.window.NextEnd(now).Sub(now)
	} else {
		st.UntilNextWindow = c.window.NextStart(now).Sub(now)
	}
	return st
}
