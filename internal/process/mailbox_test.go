package process

import "testing"

func TestMailbox_AppendAssignsSequentialIDs(t *testing.T) {
	m := newMailbox()
	m1 := m.append(1, 2, "uid-1", "uid-2", "chat", "hi")
	m2 := m.append(1, 2, "uid-1", "uid-2", "chat", "again")
	if m1.ID != "msg_1" || m2.ID != "msg_2" {
		t.Fatalf("ids = %s, %s, want msg_1, msg_2", m1.ID, m2.ID)
	}
	if !m2.Timestamp.After(m1.Timestamp) {
		t.Fatal("timestamps must be monotonic within a mailbox")
	}
}

func TestMailbox_DrainIsAtomicSwap(t *testing.T) {
	m := newMailbox()
	m.append(1, 2, "uid-1", "uid-2", "chat", "a")
	m.append(1, 2, "uid-1", "uid-2", "chat", "b")

	drained := m.drain()
	if len(drained) != 2 {
		t.Fatalf("drained %d messages, want 2", len(drained))
	}
	for _, msg := range drained {
		if !msg.Delivered {
			t.Fatal("drained messages must be marked delivered")
		}
	}
	if len(m.drain()) != 0 {
		t.Fatal("mailbox should be empty after drain")
	}
}
