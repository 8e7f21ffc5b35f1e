// Package process implements the kernel's process table: PID allocation,
// lifecycle state tracking, signal dispatch, the priority admission queue,
// and per-process mailboxes. One mutex guards the whole table, the same
// single-lock idiom the teacher uses for its session manager and the
// pack's process-manager reference file protects its unit/PID/slot maps
// with a single m.mu.
package process

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/eventbus"
)

// MaxProcesses is the hard cap on non-dead process records a table may hold
// at once, per spec.md §4.4.1. Exceeding it fails Spawn outright — unlike
// the admission queue, there is no waiting list for this limit.
const MaxProcesses = 64

// SpawnConfig is the caller-supplied agent configuration for a new process.
type SpawnConfig struct {
	Role     string         `json:"role"`
	Goal     string         `json:"goal"`
	Priority int            `json:"priority,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Process is one entry in the process table, per spec.md §3's Process entity.
type Process struct {
	PID       int               `json:"pid"`
	PPID      int               `json:"ppid"`
	OwnerUID  string            `json:"owner_uid"`
	UID       string            `json:"uid"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env"`
	State     State             `json:"state"`
	Phase     string            `json:"phase"`
	Priority  int               `json:"priority"`
	Config    SpawnConfig       `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
}

// snapshot returns a shallow copy safe to hand to callers/events outside the
// table's lock.
func (p *Process) snapshot() *Process {
	cp := *p
	cp.Env = make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		cp.Env[k] = v
	}
	return &cp
}

// ErrQueued is returned by Spawn when the request was admitted into the
// admission queue instead of starting immediately — this is the "distinct
// queued signal" of spec.md §4.4.1, not a failure.
var ErrQueued = apperr.New(apperr.RateLimit, "process queued: no free concurrency slot")

// Table is the kernel's process table.
type Table struct {
	mu           sync.Mutex
	bus          *eventbus.Bus
	logger       *slog.Logger
	processes    map[int]*Process
	mailboxes    map[int]*mailbox
	nextPID      int
	maxConcurrent int
	queue        *admissionQueue
}

// New constructs a Table. maxConcurrent gates how many created/running/
// sleeping processes may exist before further spawns queue; maxQueueLen
// bounds the admission queue itself.
func New(bus *eventbus.Bus, logger *slog.Logger, maxConcurrent, maxQueueLen int) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = MaxProcesses
	}
	return &Table{
		bus:           bus,
		logger:        logger.With("component", "process.table"),
		processes:     make(map[int]*Process),
		mailboxes:     make(map[int]*mailbox),
		maxConcurrent: maxConcurrent,
		queue:         newAdmissionQueue(maxQueueLen),
	}
}

// Spawn allocates a PID and creates a Process in state created/phase
// booting, or queues the request if the table is at its concurrency limit,
// per spec.md §4.4.1.
func (t *Table) Spawn(cfg SpawnConfig, ppid int, ownerUID string) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nonDeadCountLocked() >= MaxProcesses {
		return nil, apperr.Newf(apperr.Fatal, "process table full: %d non-dead processes (hard cap %d)", t.nonDeadCountLocked(), MaxProcesses)
	}

	priority := clampPriority(cfg.Priority)

	if t.activeCountLocked() >= t.maxConcurrent {
		if t.queue.full() {
			return nil, apperr.New(apperr.RateLimit, "admission queue full")
		}
		t.queue.enqueue(cfg, ppid, ownerUID, priority)
		t.bus.Publish("process.queued", map[string]any{"owner_uid": ownerUID, "priority": priority})
		return nil, ErrQueued
	}

	return t.spawnLocked(cfg, ppid, ownerUID, priority), nil
}

func (t *Table) spawnLocked(cfg SpawnConfig, ppid int, ownerUID string, priority int) *Process {
	t.nextPID++
	pid := t.nextPID
	uid := fmt.Sprintf("agent_%d", pid)

	p := &Process{
		PID:      pid,
		PPID:     ppid,
		OwnerUID: ownerUID,
		UID:      uid,
		Cwd:      fmt.Sprintf("/home/%s", uid),
		Env: map[string]string{
			"AGENT_ROLE": cfg.Role,
			"AGENT_GOAL": cfg.Goal,
		},
		State:     Created,
		Phase:     "booting",
		Priority:  priority,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	t.processes[pid] = p
	t.mailboxes[pid] = newMailbox()

	t.bus.Publish("process.spawned", p.snapshot())
	return p.snapshot()
}

func clampPriority(p int) int {
	if p == 0 {
		return 3
	}
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

func (t *Table) nonDeadCountLocked() int {
	n := 0
	for _, p := range t.processes {
		if p.State != Dead {
			n++
		}
	}
	return n
}

func (t *Table) activeCountLocked() int {
	n := 0
	for _, p := range t.processes {
		if p.State == Created || p.State == Running || p.State == Sleeping {
			n++
		}
	}
	return n
}

// SetState transitions pid to state (and updates phase, if non-empty),
// enforcing the lifecycle table of spec.md §4.4.2.
func (t *Table) SetState(pid int, state State, phase string) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.processes[pid]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no such process: %d", pid)
	}
	prev := p.State
	if err := checkTransition(prev, state); err != nil {
		return nil, err
	}
	p.State = state
	if phase != "" {
		p.Phase = phase
	}

	t.bus.Publish("process.stateChange", map[string]any{
		"pid": pid, "from": prev, "to": state, "phase": p.Phase,
	})
	return p.snapshot(), nil
}

// SetPriority updates pid's priority. It reports (false, err) for an
// out-of-range priority, and (false, nil) — not an error — for a dead
// process, per spec.md §4.4.1.
func (t *Table) SetPriority(pid, priority int) (bool, error) {
	if priority < 1 || priority > 5 {
		return false, apperr.Newf(apperr.InvalidInput, "priority must be in 1..5, got %d", priority)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.processes[pid]
	if !ok {
		return false, apperr.Newf(apperr.NotFound, "no such process: %d", pid)
	}
	if p.State == Dead {
		return false, nil
	}
	p.Priority = priority
	t.bus.Publish("process.priorityChanged", map[string]any{"pid": pid, "priority": priority})
	return true, nil
}

// Reap finalizes a zombie process into dead, clears its mailbox, and — if
// the admission queue is non-empty — dequeues and spawns the next highest-
// priority request, per spec.md §4.4.1/§4.4.4.
func (t *Table) Reap(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.processes[pid]
	if !ok {
		return apperr.Newf(apperr.NotFound, "no such process: %d", pid)
	}
	if err := checkTransition(p.State, Dead); err != nil {
		return err
	}
	p.State = Dead
	delete(t.mailboxes, pid)

	t.bus.Publish("process.reaped", map[string]any{"pid": pid})

	if entry := t.queue.dequeue(); entry != nil {
		t.bus.Publish("process.dequeued", map[string]any{"owner_uid": entry.ownerUID, "priority": entry.priority})
		t.spawnLocked(entry.config, entry.ppid, entry.ownerUID, entry.priority)
	}
	return nil
}

// SendMessage appends a message to toPID's mailbox. Both endpoints must
// exist and be non-dead, per spec.md §4.4.5.
func (t *Table) SendMessage(fromPID, toPID int, channel string, payload any) (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.processes[fromPID]
	if !ok || from.State == Dead {
		return nil, apperr.Newf(apperr.NotFound, "sender process %d does not exist or is dead", fromPID)
	}
	to, ok := t.processes[toPID]
	if !ok || to.State == Dead {
		return nil, apperr.Newf(apperr.NotFound, "receiver process %d does not exist or is dead", toPID)
	}

	box := t.mailboxes[toPID]
	if box == nil {
		box = newMailbox()
		t.mailboxes[toPID] = box
	}
	msg := box.append(fromPID, toPID, from.UID, to.UID, channel, payload)
	return &msg, nil
}

// DrainMessages atomically empties pid's mailbox and returns its contents in
// enqueue order, marked delivered.
func (t *Table) DrainMessages(pid int) ([]Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	box, ok := t.mailboxes[pid]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no such process: %d", pid)
	}
	return box.drain(), nil
}

// IsOwner reports whether userID may act on pid: true if the process has no
// recorded owner, if userID owns it, or if admin is true.
func (t *Table) IsOwner(pid int, userID string, admin bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if admin {
		return true
	}
	p, ok := t.processes[pid]
	if !ok {
		return false
	}
	return p.OwnerUID == "" || p.OwnerUID == userID
}

// Get returns a snapshot of pid, or an error if it doesn't exist.
func (t *Table) Get(pid int) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.processes[pid]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no such process: %d", pid)
	}
	return p.snapshot(), nil
}

// GetActiveByOwner returns non-dead processes owned by userID, or every
// non-dead process if admin is true.
func (t *Table) GetActiveByOwner(userID string, admin bool) []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Process
	for _, p := range t.processes {
		if p.State == Dead {
			continue
		}
		if admin || p.OwnerUID == userID {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// GetByPriority returns every non-dead process at priority p.
func (t *Table) GetByPriority(priority int) []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Process
	for _, p := range t.processes {
		if p.State != Dead && p.Priority == priority {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// GetCounts returns the number of processes in each state.
func (t *Table) GetCounts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[State]int)
	for _, p := range t.processes {
		counts[p.State]++
	}
	return counts
}

// QueueLength returns the number of spawn requests currently queued.
func (t *Table) QueueLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.length()
}
