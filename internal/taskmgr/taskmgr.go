// Package taskmgr implements the cooperative task state machine and 10ms
// tick scheduler: a fixed task table advanced through its lifecycle
// callbacks, one pass per tick, in registration order.
package taskmgr

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is a task's position in the lifecycle state machine:
//
//	Invalid -> Init -> Start -> AssertRun -> Running <-> PostRun -> Stop -> Invalid
type State int

const (
	StateInvalid State = iota
	StateInit
	StateStart
	StateAssertRun
	StateRunning
	StatePostRun
	StateStop
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateInit:
		return "Init"
	case StateStart:
		return "Start"
	case StateAssertRun:
		return "AssertRun"
	case StateRunning:
		return "Running"
	case StatePostRun:
		return "PostRun"
	case StateStop:
		return "Stop"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ID identifies a task in the fixed, statically-declared task table.
type ID int

// Callbacks holds a task's lifecycle hooks. Every field is optional; a nil
// callback is simply skipped. Callbacks are cooperative: they must return
// promptly, using a clock.Counter of their own to gate periodic work
// instead of blocking the scheduler.
type Callbacks struct {
	Init      func()
	Start     func()
	AssertRun func()
	Run       func()
	PostRun   func()
	Stop      func()

	// OnEnterRun fires exactly once, the tick a task first reaches Running.
	OnEnterRun func()
	// OnExitPostRun fires exactly once, the tick a task leaves PostRun for Stop.
	OnExitPostRun func()
}

// task is the runtime record for one registered task.
type task struct {
	id   ID
	cb   Callbacks
	name string

	mu            sync.Mutex
	state         State
	enteredRun    bool
	exitedPostRun bool
}

func (t *task) getState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Manager owns the fixed task table and drives it on a single logical
// scheduler "thread" (goroutine), one tick every TickInterval. Tasks are
// statically registered before Run is called and are never created or
// destroyed at runtime.
type Manager struct {
	TickInterval time.Duration
	Logger       *log.Logger

	mu    sync.Mutex
	order []*task
	byID  map[ID]*task

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a manager with the given tick interval (pass 0 for
// the 10ms default).
func NewManager(tick time.Duration, logger *log.Logger) *Manager {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		TickInterval: tick,
		Logger:       logger,
		byID:         make(map[ID]*task),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Register installs a task into the table in call order. Registration
// must happen before Run starts; the table is fixed once the scheduler is
// running. A freshly registered task starts in StateInit, not StateInvalid:
// a statically declared task's Invalid->Init edge is unconditional, so
// Register performs it itself rather than leaving callers to call
// Transition(id, StateInit) out of band.
func (m *Manager) Register(id ID, name string, cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &task{id: id, cb: cb, name: name, state: StateInit}
	m.order = append(m.order, t)
	m.byID[id] = t
}

// State returns the current lifecycle state of id, or StateInvalid if id
// was never registered.
func (m *Manager) State(id ID) State {
	m.mu.Lock()
	t := m.byID[id]
	m.mu.Unlock()
	if t == nil {
		return StateInvalid
	}
	return t.getState()
}

// Transition explicitly moves id to newState. Tasks call this from their
// own lifecycle callbacks to advance themselves out of band with the
// scheduler's default per-tick advance (e.g. AssertRun moving straight to
// Running once its preconditions are satisfied).
func (m *Manager) Transition(id ID, newState State) error {
	m.mu.Lock()
	t := m.byID[id]
	m.mu.Unlock()
	if t == nil {
		return fmt.Errorf("taskmgr: unknown task id %d", id)
	}
	t.setState(newState)
	return nil
}

// Run drives the scheduler loop until ctx is canceled or Stop is called.
// It blocks the calling goroutine; callers typically run it in its own
// goroutine. Run invokes, once per tick and in registration order, the
// state-appropriate callback of every task.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drainStop()
			return
		case <-m.stopCh:
			m.drainStop()
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// Stop requests the scheduler to exit. It is idempotent and safe to call
// from any goroutine, including a signal handler. Run performs one final
// pass of Stop callbacks for every non-Invalid task before returning.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Wait blocks until Run has returned.
func (m *Manager) Wait() {
	<-m.done
}

func (m *Manager) tick() {
	m.mu.Lock()
	tasks := make([]*task, len(m.order))
	copy(tasks, m.order)
	m.mu.Unlock()

	for _, t := range tasks {
		m.step(t)
	}
}

func (m *Manager) step(t *task) {
	switch t.getState() {
	case StateInit:
		if t.cb.Init != nil {
			t.cb.Init()
		}
		t.setState(StateStart)
	case StateStart:
		if t.cb.Start != nil {
			t.cb.Start()
		}
		t.setState(StateAssertRun)
	case StateAssertRun:
		if t.cb.AssertRun != nil {
			t.cb.AssertRun()
		}
		// AssertRun callbacks may self-transition (e.g. straight to
		// Running); only auto-advance if they left it untouched.
		if t.getState() == StateAssertRun {
			t.setState(StateRunning)
		}
		m.maybeEnterRun(t)
	case StateRunning:
		m.maybeEnterRun(t)
		if t.cb.Run != nil {
			t.cb.Run()
		}
	case StatePostRun:
		if t.cb.PostRun != nil {
			t.cb.PostRun()
		}
		t.setState(StateStop)
		m.maybeExitPostRun(t)
	case StateStop:
		if t.cb.Stop != nil {
			t.cb.Stop()
		}
		t.setState(StateInvalid)
	case StateInvalid:
		// Register promotes every task straight to StateInit, so this state
		// is only observed after a full shutdown drain; nothing to do.
	}
}

func (m *Manager) maybeEnterRun(t *task) {
	t.mu.Lock()
	fire := t.getStateLocked() == StateRunning && !t.enteredRun
	if fire {
		t.enteredRun = true
	}
	t.mu.Unlock()
	if fire && t.cb.OnEnterRun != nil {
		t.cb.OnEnterRun()
	}
}

func (m *Manager) maybeExitPostRun(t *task) {
	t.mu.Lock()
	fire := !t.exitedPostRun
	if fire {
		t.exitedPostRun = true
	}
	t.mu.Unlock()
	if fire && t.cb.OnExitPostRun != nil {
		t.cb.OnExitPostRun()
	}
}

// getStateLocked assumes t.mu is already held.
func (t *task) getStateLocked() State { return t.state }

func (m *Manager) drainStop() {
	m.mu.Lock()
	tasks := make([]*task, len(m.order))
	copy(tasks, m.order)
	m.mu.Unlock()

	for _, t := range tasks {
		if t.getState() == StateInvalid {
			continue
		}
		if t.cb.Stop != nil {
			t.cb.Stop()
		}
		t.setState(StateInvalid)
		m.Logger.Printf("task %q (%d) stopped", t.name, t.id)
	}
}
