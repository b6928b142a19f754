package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

type queueFake struct {
	interfaces.JobStorage

	mu      sync.Mutex
	pending []*models.ExtractionJob
	stale   []*models.ExtractionJob

	claimed  map[string]string // job id -> owner
	resets   []string
	failures []string
	// claimWinners controls which jobs a Claim call wins; nil means all.
	claimWinners map[string]bool
}

func newQueueFake() *queueFake {
	return &queueFake{claimed: make(map[string]string)}
}

func (q *queueFake) NextPending(ctx context.Context, limit int) ([]*models.ExtractionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > limit {
		return q.pending[:limit], nil
	}
	return q.pending, nil
}

func (q *queueFake) Claim(ctx context.Context, id, owner string, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimWinners != nil && !q.claimWinners[id] {
		return false, nil
	}
	if _, taken := q.claimed[id]; taken {
		return false, nil
	}
	q.claimed[id] = owner
	return true, nil
}

func (q *queueFake) StaleJobs(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.ExtractionJob
	for _, job := range q.stale {
		if job.LeaseAcquiredAt != nil && job.LeaseAcquiredAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (q *queueFake) ResetStale(ctx context.Context, id string, leaseAcquiredAt time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resets = append(q.resets, id)
	return true, nil
}

func (q *queueFake) FailStale(ctx context.Context, id string, leaseAcquiredAt time.Time, errMsg string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures = append(q.failures, id)
	return true, nil
}

type processorFake struct {
	mu        sync.Mutex
	processed []string
	err       error
}

func (p *processorFake) Process(ctx context.Context, job *models.ExtractionJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, job.ID)
	return p.err
}

type eventsFake struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (e *eventsFake) Subscribe(t interfaces.EventType, h interfaces.EventHandler) error { return nil }
func (e *eventsFake) Publish(ctx context.Context, ev interfaces.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}
func (e *eventsFake) PublishSync(ctx context.Context, ev interfaces.Event) error {
	return e.Publish(ctx, ev)
}
func (e *eventsFake) Close() error { return nil }

func (e *eventsFake) byType(t interfaces.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newPool(queue *queueFake, processor *processorFake, events *eventsFake, clock *testClock) *WorkerPool {
	return NewWorkerPool(WorkerPoolConfig{
		PollInterval:   time.Second,
		Concurrency:    2,
		MaxAttempts:    3,
		StaleThreshold: 30 * time.Minute,
	}, queue, processor, events, clock, arbor.NewLogger())
}

func TestClaimAndProcessWinsFirstFreeJob(t *testing.T) {
	queue := newQueueFake()
	queue.pending = []*models.ExtractionJob{
		models.NewExtractionJob("job_1", "card_1", models.JobModeFull),
		models.NewExtractionJob("job_2", "card_2", models.JobModeFull),
	}
	processor := &processorFake{}
	events := &eventsFake{}
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	pool := newPool(queue, processor, events, clock)

	if err := pool.claimAndProcess(context.Background(), "w0"); err != nil {
		t.Fatalf("claimAndProcess failed: %v", err)
	}

	if len(processor.processed) != 1 || processor.processed[0] != "job_1" {
		t.Errorf("processed = %v, want [job_1]", processor.processed)
	}
	if owner := queue.claimed["job_1"]; owner != "w0" {
		t.Errorf("job_1 owner = %q, want w0", owner)
	}
	if events.byType(interfaces.EventJobClaimed) != 1 {
		t.Errorf("job_claimed events = %d, want 1", events.byType(interfaces.EventJobClaimed))
	}
}

func TestClaimAndProcessMovesPastLostClaims(t *testing.T) {
	queue := newQueueFake()
	queue.pending = []*models.ExtractionJob{
		models.NewExtractionJob("job_1", "card_1", models.JobModeFull),
		models.NewExtractionJob("job_2", "card_2", models.JobModeFull),
	}
	queue.claimWinners = map[string]bool{"job_2": true} // job_1 lost to another worker
	processor := &processorFake{}
	events := &eventsFake{}
	clock := &testClock{now: time.Now().UTC()}
	pool := newPool(queue, processor, events, clock)

	if err := pool.claimAndProcess(context.Background(), "w0"); err != nil {
		t.Fatalf("claimAndProcess failed: %v", err)
	}
	if len(processor.processed) != 1 || processor.processed[0] != "job_2" {
		t.Errorf("processed = %v, want [job_2] after losing job_1", processor.processed)
	}
}

func TestClaimExclusivityAcrossOwners(t *testing.T) {
	queue := newQueueFake()
	queue.pending = []*models.ExtractionJob{
		models.NewExtractionJob("job_1", "card_1", models.JobModeFull),
	}
	processor := &processorFake{}
	events := &eventsFake{}
	clock := &testClock{now: time.Now().UTC()}
	pool := newPool(queue, processor, events, clock)

	if err := pool.claimAndProcess(context.Background(), "w0"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := pool.claimAndProcess(context.Background(), "w1"); err != nil {
		t.Fatalf("second claim failed: %v", err)
	}

	if len(processor.processed) != 1 {
		t.Errorf("processed %d times, want 1 (claim is exclusive)", len(processor.processed))
	}
	if owner := queue.claimed["job_1"]; owner != "w0" {
		t.Errorf("owner = %q, want the first claimer", owner)
	}
}

func TestSweepStaleRequeuesUnderAttemptCap(t *testing.T) {
	queue := newQueueFake()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	leaseAt := now.Add(-31 * time.Minute)
	owner := "crashed-worker"

	job := models.NewExtractionJob("job_1", "card_1", models.JobModeFull)
	job.Status = models.JobStatusRunning
	job.Attempts = 1
	job.LeaseOwner = &owner
	job.LeaseAcquiredAt = &leaseAt
	queue.stale = []*models.ExtractionJob{job}

	events := &eventsFake{}
	pool := newPool(queue, &processorFake{}, events, &testClock{now: now})

	pool.sweepStale(context.Background())

	if len(queue.resets) != 1 || queue.resets[0] != "job_1" {
		t.Errorf("resets = %v, want [job_1]", queue.resets)
	}
	if len(queue.failures) != 0 {
		t.Errorf("failures = %v, want none under the attempt cap", queue.failures)
	}
	if events.byType(interfaces.EventJobRequeued) != 1 {
		t.Errorf("job_requeued events = %d, want 1", events.byType(interfaces.EventJobRequeued))
	}
}

func TestSweepStaleFailsAtAttemptCap(t *testing.T) {
	queue := newQueueFake()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	leaseAt := now.Add(-45 * time.Minute)
	owner := "crashed-worker"

	job := models.NewExtractionJob("job_1", "card_1", models.JobModeFull)
	job.Status = models.JobStatusRunning
	job.Attempts = 3
	job.LeaseOwner = &owner
	job.LeaseAcquiredAt = &leaseAt
	queue.stale = []*models.ExtractionJob{job}

	events := &eventsFake{}
	pool := newPool(queue, &processorFake{}, events, &testClock{now: now})

	pool.sweepStale(context.Background())

	if len(queue.failures) != 1 || queue.failures[0] != "job_1" {
		t.Errorf("failures = %v, want [job_1]", queue.failures)
	}
	if len(queue.resets) != 0 {
		t.Errorf("resets = %v, want none at the attempt cap", queue.resets)
	}
	if events.byType(interfaces.EventJobFailed) != 1 {
		t.Errorf("job_failed events = %d, want 1", events.byType(interfaces.EventJobFailed))
	}
}

func TestSweepStaleIgnoresFreshLeases(t *testing.T) {
	queue := newQueueFake()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	leaseAt := now.Add(-5 * time.Minute) // inside the threshold
	owner := "busy-worker"

	job := models.NewExtractionJob("job_1", "card_1", models.JobModeFull)
	job.Status = models.JobStatusRunning
	job.Attempts = 1
	job.LeaseOwner = &owner
	job.LeaseAcquiredAt = &leaseAt
	queue.stale = []*models.ExtractionJob{job}

	pool := newPool(queue, &processorFake{}, &eventsFake{}, &testClock{now: now})
	pool.sweepStale(context.Background())

	if len(queue.resets) != 0 || len(queue.failures) != 0 {
		t.Errorf("fresh lease touched: resets=%v failures=%v", queue.resets, queue.failures)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	queue := newQueueFake()
	pool := NewWorkerPool(WorkerPoolConfig{
		PollInterval:   50 * time.Millisecond,
		Concurrency:    2,
		MaxAttempts:    3,
		StaleThreshold: time.Minute,
	}, queue, &processorFake{}, &eventsFake{}, &testClock{now: time.Now().UTC()}, arbor.NewLogger())

	if pool.IsRunning() {
		t.Fatal("pool reports running before Start")
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !pool.IsRunning() {
		t.Fatal("pool not running after Start")
	}
	if err := pool.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if pool.IsRunning() {
		t.Fatal("pool still running after Stop")
	}
	// Stop again is a no-op.
	if err := pool.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
