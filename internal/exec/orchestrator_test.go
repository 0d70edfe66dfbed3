package exec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOrchestrator_Run_Success(t *testing.T) {
	o := NewOrchestrator(1)

	res, err := o.Run(context.Background(), Command{Argv: []string{"sh", "-c", "echo hello"}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Success {
		t.Error("expected success for zero exit")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.Duration <= 0 {
		t.Error("duration should be positive")
	}
}

func TestOrchestrator_Run_NonZeroExit_IsNotError(t *testing.T) {
	o := NewOrchestrator(1)

	res, err := o.Run(context.Background(), Command{Argv: []string{"sh", "-c", "echo oops >&2; exit 3"}})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got: %v", err)
	}
	if res.Success {
		t.Error("expected success=false for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "oops\n")
	}
}

func TestOrchestrator_Run_SpawnFailure(t *testing.T) {
	o := NewOrchestrator(1)

	_, err := o.Run(context.Background(), Command{Argv: []string{"definitely-not-a-real-binary-xyz"}})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
}

func TestOrchestrator_Run_Timeout(t *testing.T) {
	o := NewOrchestrator(1)

	start := time.Now()
	_, err := o.Run(context.Background(), Command{
		Argv:    []string{"sleep", "30"},
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Elapsed <= 0 {
		t.Error("timeout error should carry elapsed time")
	}
	// Termination must happen within a bounded grace period, not after
	// the full sleep.
	if elapsed > 10*time.Second {
		t.Errorf("process not terminated promptly: took %s", elapsed)
	}
}

func TestOrchestrator_Run_Stdin(t *testing.T) {
	o := NewOrchestrator(1)

	res, err := o.Run(context.Background(), Command{
		Argv:  []string{"cat"},
		Stdin: "piped input",
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Stdout != "piped input" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "piped input")
	}
}

func TestOrchestrator_Run_EnvOverride(t *testing.T) {
	o := NewOrchestrator(1)

	res, err := o.Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "echo $NOCTURND_TEST_VAR"},
		Env:  map[string]string{"NOCTURND_TEST_VAR": "42"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "42\n")
	}
}

func TestOrchestrator_PoolBound(t *testing.T) {
	const poolSize = 2
	o := NewOrchestrator(poolSize)

	// Sample semaphore occupancy while six callers contend for two slots.
	var peak int64
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			n := int64(len(o.slots))
			if n > atomic.LoadInt64(&peak) {
				atomic.StoreInt64(&peak, n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Run(context.Background(), Command{Argv: []string{"sleep", "0.05"}})
		}()
	}

	wg.Wait()
	close(done)

	if p := atomic.LoadInt64(&peak); p > poolSize {
		t.Errorf("observed %d concurrent slots, pool size is %d", p, poolSize)
	}
	if got := len(o.History()); got != 6 {
		t.Errorf("history length = %d, want 6", got)
	}
}

func TestOrchestrator_Run_CancelledWhileQueued(t *testing.T) {
	o := NewOrchestrator(1)

	// Occupy the only slot.
	release := make(chan struct{})
	go func() {
		_, _ = o.Run(context.Background(), Command{Argv: []string{"sleep", "1"}})
		close(release)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, Command{Argv: []string{"echo", "never"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("queued caller should see context.Canceled, got %v", err)
	}
	<-release
}

func TestOrchestrator_HistoryBounded(t *testing.T) {
	o := NewOrchestrator(1)
	o.historyLimit = 5

	for i := 0; i < 8; i++ {
		_, _ = o.Run(context.Background(), Command{Argv: []string{"true"}})
	}

	if got := len(o.History()); got != 5 {
		t.Errorf("history length = %d, want 5", got)
	}
}

func TestOrchestrator_GetStats(t *testing.T) {
	o := NewOrchestrator(1)

	_, _ = o.Run(context.Background(), Command{Argv: []string{"true"}})
	_, _ = o.Run(context.Background(), Command{Argv: []string{"false"}})

	stats := o.GetStats()
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", stats.Succeeded)
	}
}
