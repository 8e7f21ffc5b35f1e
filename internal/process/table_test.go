package process

import (
	"testing"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/eventbus"
)

func newTestTable(t *testing.T, maxConcurrent, maxQueue int) *Table {
	t.Helper()
	return New(eventbus.New(nil), nil, maxConcurrent, maxQueue)
}

func TestTable_Spawn_DefaultsAndEnv(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, err := tbl.Spawn(SpawnConfig{Role: "researcher", Goal: "find bugs"}, 0, "user-1")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.State != Created || p.Phase != "booting" {
		t.Fatalf("new process state/phase = %s/%s, want created/booting", p.State, p.Phase)
	}
	if p.Priority != 3 {
		t.Fatalf("default priority = %d, want 3", p.Priority)
	}
	if p.UID != "agent_1" || p.Cwd != "/home/agent_1" {
		t.Fatalf("uid/cwd = %s/%s, want agent_1//home/agent_1", p.UID, p.Cwd)
	}
	if p.Env["AGENT_ROLE"] != "researcher" || p.Env["AGENT_GOAL"] != "find bugs" {
		t.Fatalf("env not seeded from config: %+v", p.Env)
	}
}

func TestTable_Spawn_PriorityClamped(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, err := tbl.Spawn(SpawnConfig{Priority: 99}, 0, "u")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.Priority != 5 {
		t.Fatalf("priority = %d, want clamped to 5", p.Priority)
	}
}

func TestTable_Spawn_QueuesWhenAtConcurrencyLimit(t *testing.T) {
	tbl := newTestTable(t, 1, 10)
	if _, err := tbl.Spawn(SpawnConfig{}, 0, "u1"); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	_, err := tbl.Spawn(SpawnConfig{}, 0, "u2")
	if err != ErrQueued {
		t.Fatalf("second Spawn error = %v, want ErrQueued", err)
	}
	if tbl.QueueLength() != 1 {
		t.Fatalf("queue length = %d, want 1", tbl.QueueLength())
	}
}

func TestTable_Spawn_HardCapIsFatal(t *testing.T) {
	tbl := newTestTable(t, MaxProcesses, 0)
	for i := 0; i < MaxProcesses; i++ {
		if _, err := tbl.Spawn(SpawnConfig{}, 0, "u"); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}
	if _, err := tbl.Spawn(SpawnConfig{}, 0, "u"); !apperr.Is(err, apperr.Fatal) {
		t.Fatalf("spawn past hard cap: err = %v, want FATAL", err)
	}
}

func TestTable_Reap_DequeuesNextRequest(t *testing.T) {
	tbl := newTestTable(t, 1, 10)
	p1, err := tbl.Spawn(SpawnConfig{}, 0, "u1")
	if err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	if _, err := tbl.Spawn(SpawnConfig{}, 0, "u2"); err != ErrQueued {
		t.Fatalf("second Spawn: err = %v, want ErrQueued", err)
	}

	if _, err := tbl.SetState(p1.PID, Running, "active"); err != nil {
		t.Fatalf("SetState running: %v", err)
	}
	if ok := tbl.Signal(p1.PID, SIGTERM); !ok {
		t.Fatal("Signal SIGTERM should succeed")
	}
	if err := tbl.Reap(p1.PID); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if tbl.QueueLength() != 0 {
		t.Fatalf("queue length after reap = %d, want 0 (dequeued)", tbl.QueueLength())
	}

	counts := tbl.GetCounts()
	if counts[Created] != 1 {
		t.Fatalf("expected the queued request to have spawned into created, counts = %+v", counts)
	}
}

func TestTable_SetState_RejectsIllegalTransition(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	if _, err := tbl.SetState(p.PID, Stopped, ""); !apperr.Is(err, apperr.InvalidState) {
		t.Fatalf("created -> stopped: err = %v, want INVALID_STATE", err)
	}
}

func TestTable_SetPriority_DeadReturnsFalseNoError(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	tbl.Signal(p.PID, SIGKILL)
	if err := tbl.Reap(p.PID); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	ok, err := tbl.SetPriority(p.PID, 2)
	if err != nil {
		t.Fatalf("SetPriority on dead process should not error: %v", err)
	}
	if ok {
		t.Fatal("SetPriority on dead process should report false")
	}
}

func TestTable_SetPriority_OutOfRangeIsError(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	if _, err := tbl.SetPriority(p.PID, 0); !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("SetPriority(0): err = %v, want INVALID_INPUT", err)
	}
	if _, err := tbl.SetPriority(p.PID, 6); !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("SetPriority(6): err = %v, want INVALID_INPUT", err)
	}
}

func TestTable_Signal_SIGSTOPAndSIGCONT(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	if _, err := tbl.SetState(p.PID, Running, ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !tbl.Signal(p.PID, SIGSTOP) {
		t.Fatal("SIGSTOP should succeed on a running process")
	}
	got, _ := tbl.Get(p.PID)
	if got.State != Stopped {
		t.Fatalf("state after SIGSTOP = %s, want stopped", got.State)
	}
	if !tbl.Signal(p.PID, SIGCONT) {
		t.Fatal("SIGCONT should succeed on a stopped process")
	}
	got, _ = tbl.Get(p.PID)
	if got.State != Running {
		t.Fatalf("state after SIGCONT = %s, want running", got.State)
	}
}

func TestTable_Signal_DeadOrUnknownReturnsFalse(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	if tbl.Signal(999, SIGTERM) {
		t.Fatal("Signal on unknown PID should return false")
	}
}

func TestTable_IsOwner(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p, _ := tbl.Spawn(SpawnConfig{}, 0, "owner-1")
	if !tbl.IsOwner(p.PID, "owner-1", false) {
		t.Fatal("owner should be recognized as owner")
	}
	if tbl.IsOwner(p.PID, "someone-else", false) {
		t.Fatal("non-owner should not be recognized as owner")
	}
	if !tbl.IsOwner(p.PID, "someone-else", true) {
		t.Fatal("admin should always be recognized as owner")
	}
}

func TestTable_SendMessageAndDrain(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p1, _ := tbl.Spawn(SpawnConfig{}, 0, "sender-uid")
	p2, _ := tbl.Spawn(SpawnConfig{}, 0, "receiver-uid")

	if _, err := tbl.SendMessage(p1.PID, p2.PID, "chat", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs, err := tbl.DrainMessages(p2.PID)
	if err != nil {
		t.Fatalf("DrainMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg_1" || !msgs[0].Delivered {
		t.Fatalf("unexpected drained messages: %+v", msgs)
	}
	if msgs[0].FromUID != p1.UID || msgs[0].ToUID != p2.UID || p1.UID != "agent_1" || p2.UID != "agent_2" {
		t.Fatalf("expected from/to uids to be populated, got %+v", msgs[0])
	}

	msgs, err = tbl.DrainMessages(p2.PID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("second drain should be empty, got %+v, err %v", msgs, err)
	}
}

func TestTable_SendMessage_DeadReceiverFails(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	p1, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	p2, _ := tbl.Spawn(SpawnConfig{}, 0, "u")
	tbl.Signal(p2.PID, SIGKILL)
	if err := tbl.Reap(p2.PID); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if _, err := tbl.SendMessage(p1.PID, p2.PID, "chat", "hi"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("SendMessage to dead process: err = %v, want NOT_FOUND", err)
	}
}

func TestTable_GetCounts(t *testing.T) {
	tbl := newTestTable(t, 10, 10)
	tbl.Spawn(SpawnConfig{}, 0, "u")
	tbl.Spawn(SpawnConfig{}, 0, "u")
	counts := tbl.GetCounts()
	if counts[Created] != 2 {
		t.Fatalf("counts = %+v, want 2 created", counts)
	}
}
