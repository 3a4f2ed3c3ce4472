package jobs

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"teletriage/internal/bus"
)

func testManager() *Manager {
	return NewManager(bus.New(), zap.NewNop())
}

func TestJobLifecycle(t *testing.T) {
	m := testManager()

	job := m.Create(TypeSync)
	if job.Status != StatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if !strings.HasPrefix(job.ID, "sync_") {
		t.Errorf("id = %q, want sync_ prefix", job.ID)
	}

	m.Start(job.ID)
	m.UpdateProgress(job.ID, 3, 10, "Syncing: Ana")

	got, ok := m.Get(job.ID)
	if !ok {
		t.Fatal("job not found")
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.ProgressCurrent != 3 || got.ProgressTotal != 10 {
		t.Errorf("progress = %d/%d, want 3/10", got.ProgressCurrent, got.ProgressTotal)
	}

	m.Complete(job.ID, map[string]int{"new": 2})
	got, _ = m.Get(job.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	m := testManager()

	job := m.Create(TypeReport)
	m.Start(job.ID)
	m.Fail(job.ID, "llm unreachable")
	m.Complete(job.ID, "late result")

	got, _ := m.Get(job.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed (terminal state must stick)", got.Status)
	}
	if got.Error != "llm unreachable" {
		t.Errorf("error = %q, want original failure", got.Error)
	}
}

func TestUpdateProgressUnknownID(t *testing.T) {
	m := testManager()
	// Must not panic or create a job.
	m.UpdateProgress("sync_99_deadbeef", 1, 2, "ghost")
	if _, ok := m.Get("sync_99_deadbeef"); ok {
		t.Error("unknown id should not materialize a job")
	}
}

func TestSubscriberPanicIsolation(t *testing.T) {
	m := testManager()

	var delivered []Status
	m.Subscribe(func(Job) { panic("bad subscriber") })
	m.Subscribe(func(j Job) { delivered = append(delivered, j.Status) })

	job := m.Create(TypeBulkSend)
	m.Start(job.ID)
	m.Complete(job.ID, nil)

	if len(delivered) != 3 {
		t.Fatalf("second subscriber got %d notifications, want 3", len(delivered))
	}
	if delivered[2] != StatusCompleted {
		t.Errorf("final notification status = %s, want completed", delivered[2])
	}
}

func TestActiveAndRecent(t *testing.T) {
	m := testManager()

	a := m.Create(TypeSync)
	b := m.Create(TypeReport)
	m.Start(b.ID)
	c := m.Create(TypeBulkSend)
	m.Complete(c.ID, nil)

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}

	recent := m.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	_ = a
}

func TestGate(t *testing.T) {
	g := NewGate()

	if err := g.TryAcquire(); err != nil {
		t.Fatal(err)
	}
	if err := g.TryAcquire(); err != ErrGateBusy {
		t.Fatalf("second acquire err = %v, want ErrGateBusy", err)
	}
	g.Release()
	if err := g.TryAcquire(); err != nil {
		t.Fatalf("acquire after release err = %v", err)
	}
}
