package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errTestError = errors.New("test error")
	errIgnored   = errors.New("ignored")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(cfg).WithClock(clock.Now), clock
}

func fail() error    { return errTestError }
func succeed() error { return nil }

func TestCircuitBreaker_PassesResultThrough(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := cb.Execute(fail); !errors.Is(err, errTestError) {
		t.Fatalf("Expected errTestError, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected state open, got: %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 2, Timeout: time.Minute})

	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)

	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, errIgnored) },
	})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errIgnored }); !errors.Is(err, errIgnored) {
			t.Fatalf("Expected errIgnored, got: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected ignored errors to keep the circuit closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	})

	_ = cb.Execute(fail)
	clock.Advance(10 * time.Second)

	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Expected trial call to pass, got: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected state half-open, got: %v", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Expected trial call to pass, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, Timeout: 10 * time.Second})

	_ = cb.Execute(fail)
	clock.Advance(11 * time.Second)
	_ = cb.Execute(fail)

	if cb.State() != StateOpen {
		t.Fatalf("Expected state open, got: %v", cb.State())
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen right after reopening, got: %v", err)
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})

	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected second trial call to be rejected, got: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected first trial call to succeed, got: %v", err)
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Minute})

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = cb.Execute(fail)
	cb.Reset()

	if len(transitions) != 2 || transitions[0] != "closed->open" || transitions[1] != "open->closed" {
		t.Errorf("Unexpected transitions: %v", transitions)
	}
}
