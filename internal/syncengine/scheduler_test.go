package syncengine

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerRunsSyncPeriodically(t *testing.T) {
	baseURL, apiKey := newTestRelay(t)
	e := newTestEngine(t, baseURL, apiKey)

	sched := NewScheduler(e, 10*time.Millisecond)
	sched.Start(context.Background())
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		meta, err := e.Store.Sync.GetMetadata()
		if err != nil {
			t.Fatalf("GetMetadata() error = %v", err)
		}
		if meta.LastSyncAt != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not run a sync cycle within the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerStopPreventsFurtherRuns(t *testing.T) {
	baseURL, apiKey := newTestRelay(t)
	e := newTestEngine(t, baseURL, apiKey)

	sched := NewScheduler(e, 5*time.Millisecond)
	sched.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	meta, err := e.Store.Sync.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	firstSync := meta.LastSyncAt
	if firstSync == nil {
		t.Fatal("expected at least one sync cycle before Stop")
	}

	time.Sleep(50 * time.Millisecond)
	meta, err = e.Store.Sync.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata() after stop error = %v", err)
	}
	if !meta.LastSyncAt.Equal(*firstSync) {
		t.Error("sync continued running after Stop()")
	}
}

func TestNewSchedulerWithNonPositiveIntervalNeverStarts(t *testing.T) {
	baseURL, apiKey := newTestRelay(t)
	e := newTestEngine(t, baseURL, apiKey)

	sched := NewScheduler(e, 0)
	sched.Start(context.Background())
	defer sched.Stop()

	time.Sleep(30 * time.Millisecond)
	meta, err := e.Store.Sync.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.LastSyncAt != nil {
		t.Error("sync ran despite a zero scheduling interval")
	}
}
