package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/agentflow/errors"
)

// counterWorker counts hook invocations and processes until processLimit is
// reached (negative means unlimited).
type counterWorker struct {
	processLimit  atomic.Int64
	sleepTime     time.Duration
	shouldProcess atomic.Bool

	processCount    atomic.Int64
	beforeStartCnt  atomic.Int64
	afterStopCnt    atomic.Int64
	initializeCnt   atomic.Int64
	cleanupCnt      atomic.Int64
	lastWaitingSeen atomic.Int64
}

func newCounterWorker(limit int64, sleep time.Duration) *counterWorker {
	w := &counterWorker{sleepTime: sleep}
	w.processLimit.Store(limit)
	w.shouldProcess.Store(true)
	return w
}

func (w *counterWorker) ShouldProcess() bool {
	if !w.shouldProcess.Load() {
		return false
	}
	limit := w.processLimit.Load()
	return limit < 0 || w.processCount.Load() < limit
}

func (w *counterWorker) Process(ctx context.Context) error {
	w.processCount.Add(1)
	return nil
}

func (w *counterWorker) CalculateSleepTime(waiting time.Duration) time.Duration {
	w.lastWaitingSeen.Store(int64(waiting))
	return w.sleepTime
}

func (w *counterWorker) BeforeStart() { w.beforeStartCnt.Add(1) }
func (w *counterWorker) AfterStop()   { w.afterStopCnt.Add(1) }
func (w *counterWorker) Initialize()  { w.initializeCnt.Add(1) }
func (w *counterWorker) Cleanup()     { w.cleanupCnt.Add(1) }

// trueWorker always wants to process and does nothing.
type trueWorker struct{}

func (trueWorker) ShouldProcess() bool                            { return true }
func (trueWorker) Process(context.Context) error                  { return nil }
func (trueWorker) CalculateSleepTime(time.Duration) time.Duration { return time.Millisecond }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// ============================================================================
// 1. Lifecycle
// ============================================================================

func TestNewTask(t *testing.T) {
	task := New(trueWorker{})

	if task.State() != StateCreated {
		t.Errorf("State() = %v, want CREATED", task.State())
	}
	if task.ID() == "" {
		t.Error("ID() should be generated")
	}
	if task.ThreadName() != "" {
		t.Errorf("ThreadName() = %q, want empty before start", task.ThreadName())
	}
	if task.IsThreadAlive() {
		t.Error("IsThreadAlive() should be false before start")
	}
}

func TestWithID(t *testing.T) {
	task := New(trueWorker{}, WithID("poller"))
	if task.ID() != "poller" {
		t.Errorf("ID() = %q, want poller", task.ID())
	}

	task = New(trueWorker{}, WithID(""))
	if task.ID() == "" {
		t.Error("empty WithID should keep the generated id")
	}
}

func TestUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New(trueWorker{}).ID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestStartStop(t *testing.T) {
	w := newCounterWorker(10, time.Millisecond)
	task := New(w)

	task.Start()
	if task.State() != StateStarted {
		t.Errorf("State() = %v, want STARTED", task.State())
	}
	if !task.IsThreadAlive() {
		t.Error("IsThreadAlive() should be true right after Start")
	}
	if task.ThreadName() != task.ID() {
		t.Errorf("ThreadName() = %q, want %q", task.ThreadName(), task.ID())
	}

	waitFor(t, 2*time.Second, func() bool { return w.processCount.Load() == 10 }, "10 process calls")

	task.Stop()
	if task.State() != StateStopped {
		t.Errorf("State() = %v, want STOPPED", task.State())
	}
	if task.IsThreadAlive() {
		t.Error("IsThreadAlive() should be false after Stop")
	}
	if task.ThreadName() != task.ID() {
		t.Error("ThreadName() should survive Stop")
	}
	if got := w.processCount.Load(); got != 10 {
		t.Errorf("processCount = %d, want 10", got)
	}
	if got := w.afterStopCnt.Load(); got != 1 {
		t.Errorf("afterStopCnt = %d, want 1", got)
	}
	if got := w.cleanupCnt.Load(); got != 1 {
		t.Errorf("cleanupCnt = %d, want 1", got)
	}
}

func TestHooksOncePerCycle(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	task.Start()
	waitFor(t, time.Second, func() bool { return w.initializeCnt.Load() == 1 }, "Initialize")
	task.Stop()

	for name, got := range map[string]int64{
		"BeforeStart": w.beforeStartCnt.Load(),
		"Initialize":  w.initializeCnt.Load(),
		"Cleanup":     w.cleanupCnt.Load(),
		"AfterStop":   w.afterStopCnt.Load(),
	} {
		if got != 1 {
			t.Errorf("%s called %d times, want 1", name, got)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	task.Start()
	task.Start()
	task.Start()
	task.Stop()

	if got := w.beforeStartCnt.Load(); got != 1 {
		t.Errorf("BeforeStart called %d times, want 1", got)
	}
	if got := w.initializeCnt.Load(); got != 1 {
		t.Errorf("Initialize called %d times, want 1", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	task.Start()
	task.Stop()
	task.Stop()

	if got := w.afterStopCnt.Load(); got != 1 {
		t.Errorf("AfterStop called %d times, want 1", got)
	}
	if got := w.cleanupCnt.Load(); got != 1 {
		t.Errorf("Cleanup called %d times, want 1", got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	task.Stop()

	if task.State() != StateCreated {
		t.Errorf("State() = %v, want CREATED", task.State())
	}
	if w.afterStopCnt.Load() != 0 {
		t.Error("AfterStop should not run for a task that never started")
	}
}

func TestRestartCycles(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	const cycles = 5
	for i := 1; i <= cycles; i++ {
		before := w.processCount.Load()
		task.Start()
		waitFor(t, time.Second, func() bool { return w.processCount.Load() > before }, "processing after restart")
		task.Stop()

		if task.IsThreadAlive() {
			t.Fatalf("cycle %d: goroutine still alive after Stop", i)
		}
		if got := w.initializeCnt.Load(); got != int64(i) {
			t.Errorf("cycle %d: Initialize count = %d", i, got)
		}
		if got := w.cleanupCnt.Load(); got != int64(i) {
			t.Errorf("cycle %d: Cleanup count = %d", i, got)
		}
		if got := w.afterStopCnt.Load(); got != int64(i) {
			t.Errorf("cycle %d: AfterStop count = %d", i, got)
		}
	}
}

func TestConcurrentStartStop(t *testing.T) {
	w := newCounterWorker(-1, time.Millisecond)
	task := New(w)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				task.Start()
			} else {
				task.Stop()
			}
		}(i)
	}
	wg.Wait()
	task.Stop()

	if task.IsThreadAlive() {
		t.Error("goroutine should be gone after final Stop")
	}
	if w.initializeCnt.Load() != w.cleanupCnt.Load() {
		t.Errorf("Initialize %d != Cleanup %d", w.initializeCnt.Load(), w.cleanupCnt.Load())
	}
	if w.beforeStartCnt.Load() != w.afterStopCnt.Load() {
		t.Errorf("BeforeStart %d != AfterStop %d", w.beforeStartCnt.Load(), w.afterStopCnt.Load())
	}
}

// ============================================================================
// 2. Run-loop entry
// ============================================================================

func TestRunWithoutStart(t *testing.T) {
	task := New(trueWorker{}, WithID("misused"))

	err := task.Run(context.Background())
	if err == nil {
		t.Fatal("Run() without Start should fail")
	}
	if !errors.Is(err, errors.ErrCodeNotStarted) {
		t.Errorf("Code = %v, want NOT_STARTED", errors.Code(err))
	}
	if !strings.Contains(err.Error(), "Start()") {
		t.Errorf("Error() = %q, want mention of Start()", err.Error())
	}
	if errors.TaskIDOf(err) != "misused" {
		t.Errorf("TaskIDOf() = %q, want misused", errors.TaskIDOf(err))
	}
}

func TestRunAfterStop(t *testing.T) {
	task := New(trueWorker{})
	task.Start()
	task.Stop()

	if err := task.Run(context.Background()); !errors.Is(err, errors.ErrCodeNotStarted) {
		t.Errorf("Run() after Stop = %v, want NOT_STARTED", err)
	}
}

func TestRunWaitsForLoop(t *testing.T) {
	task := New(trueWorker{})
	task.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := task.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run() = %v, want deadline exceeded while loop is active", err)
	}

	result := make(chan error, 1)
	go func() { result <- task.Run(context.Background()) }()
	waitFor(t, time.Second, func() bool { return task.runWaiters.Load() == 1 }, "Run to block on the loop")
	task.Stop()

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Run() = %v, want nil once the loop exits", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop")
	}
}

// ============================================================================
// 3. Timing and errors
// ============================================================================

func TestWaitingTimeWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := newCounterWorker(0, 50*time.Millisecond)
	w.shouldProcess.Store(false)
	task := New(w, WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task.Start()
	defer task.Stop()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("first cycle did not sleep: %v", err)
	}
	if got := task.LastWaitingTime(); got != 0 {
		t.Errorf("first LastWaitingTime() = %v, want 0", got)
	}

	clock.Advance(50 * time.Millisecond)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("second cycle did not sleep: %v", err)
	}
	if got := task.LastWaitingTime(); got != 50*time.Millisecond {
		t.Errorf("second LastWaitingTime() = %v, want 50ms", got)
	}

	// Processing resets the idle clock.
	w.processLimit.Store(-1)
	w.shouldProcess.Store(true)
	clock.Advance(50 * time.Millisecond)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("third cycle did not sleep: %v", err)
	}
	if !task.LastActiveTime().Equal(clock.Now()) {
		t.Errorf("LastActiveTime() = %v, want %v", task.LastActiveTime(), clock.Now())
	}
}

type failingWorker struct {
	trueWorker
	calls atomic.Int64
}

func (w *failingWorker) Process(context.Context) error {
	w.calls.Add(1)
	return fmt.Errorf("cycle %d failed", w.calls.Load())
}

func TestProcessErrorContinuesLoop(t *testing.T) {
	var reported atomic.Int64
	w := &failingWorker{}
	task := New(w, WithErrorHandler(func(error) { reported.Add(1) }))

	task.Start()
	waitFor(t, time.Second, func() bool { return w.calls.Load() >= 3 }, "three failing cycles")
	task.Stop()

	if reported.Load() < 3 {
		t.Errorf("reported %d errors, want at least 3", reported.Load())
	}
	if task.Err() == nil {
		t.Error("Err() should hold the last failure")
	}
}

type panickingWorker struct {
	counterWorker
}

func (w *panickingWorker) Process(context.Context) error {
	panic("boom")
}

func TestPanicRunsCleanupAndStops(t *testing.T) {
	w := &panickingWorker{}
	w.processLimit.Store(-1)
	w.shouldProcess.Store(true)

	errCh := make(chan error, 1)
	task := New(w, WithErrorHandler(func(err error) { errCh <- err }))

	task.Start()

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrCodePanic) {
			t.Errorf("reported %v, want PANIC", err)
		}
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}

	waitFor(t, time.Second, func() bool { return !task.IsThreadAlive() }, "goroutine exit")
	if task.State() != StateStopped {
		t.Errorf("State() = %v, want STOPPED", task.State())
	}
	if got := w.cleanupCnt.Load(); got != 1 {
		t.Errorf("Cleanup called %d times, want 1", got)
	}

	task.Stop()
	if got := w.afterStopCnt.Load(); got != 1 {
		t.Errorf("AfterStop called %d times, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "CREATED"},
		{StateStarted, "STARTED"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
