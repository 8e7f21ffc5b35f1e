package process

// Signal is one of the four signals the table recognizes, per spec.md
// §4.4.3.
type Signal string

const (
	SIGTERM Signal = "SIGTERM"
	SIGKILL Signal = "SIGKILL"
	SIGSTOP Signal = "SIGSTOP"
	SIGCONT Signal = "SIGCONT"
)

// exitCode/exitSignal pairs for the two terminating signals.
var signalExit = map[Signal]struct {
	code int
	name string
}{
	SIGTERM: {143, "SIGTERM"},
	SIGKILL: {137, "SIGKILL"},
}

// Signal dispatches sig to pid per spec.md §4.4.3's table:
//
//	SIGTERM/SIGKILL: created/running/sleeping/paused/stopped -> zombie, emits process.exit
//	SIGSTOP: running -> stopped (silent)
//	SIGCONT: stopped -> running
//
// Returns false (not an error) for a dead or unknown PID, or for a signal
// that doesn't apply to the process's current state.
func (t *Table) Signal(pid int, sig Signal) bool {
	t.mu.Lock()
	p, ok := t.processes[pid]
	if !ok || p.State == Dead {
		t.mu.Unlock()
		return false
	}

	switch sig {
	case SIGTERM, SIGKILL:
		if !validTransition(p.State, Zombie) {
			t.mu.Unlock()
			return false
		}
		p.State = Zombie
		exit := signalExit[sig]
		t.mu.Unlock()
		t.bus.Publish("process.exit", map[string]any{"pid": pid, "code": exit.code, "signal": exit.name})
		return true

	case SIGSTOP:
		if p.State != Running {
			t.mu.Unlock()
			return false
		}
		p.State = Stopped
		t.mu.Unlock()
		return true

	case SIGCONT:
		if p.State != Stopped {
			t.mu.Unlock()
			return false
		}
		p.State = Running
		t.mu.Unlock()
		return true

	default:
		t.mu.Unlock()
		return false
	}
}
