package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

type named string

func TestFallbackGroup_PrimaryFirst(t *testing.T) {
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	var tried []named
	err := fg.Execute(func(n named) error {
		tried = append(tried, n)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tried, []named{"a"}) {
		t.Errorf("tried = %v, want [a]", tried)
	}
	if got := fg.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	got, err := ExecuteWithResult(fg, func(n named) (string, error) {
		if n == "a" {
			return "", errTest
		}
		return "from " + string(n), nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from b" {
		t.Errorf("result = %q, want %q", got, "from b")
	}
}

func TestExecuteWithResult_AllFailWrapsLastError(t *testing.T) {
	errB := errors.New("b down")
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{})
	fg.AddFallback("b", named("b"))

	_, err := ExecuteWithResult(fg, func(n named) (int, error) {
		if n == "a" {
			return 0, errTest
		}
		return 0, errB
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errB) {
		t.Errorf("err = %v, want to wrap the last failure", err)
	}
}

func TestExecuteWithResult_FailoverOnStopsWalk(t *testing.T) {
	errFinal := errors.New("final")
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{
		FailoverOn: func(err error) bool { return !errors.Is(err, errFinal) },
	})
	fg.AddFallback("b", named("b"))

	calls := 0
	_, err := ExecuteWithResult(fg, func(n named) (int, error) {
		calls++
		return 0, errFinal
	})
	if err != errFinal {
		t.Errorf("err = %v, want errFinal unwrapped", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("b", named("b"))

	_ = fg.Execute(func(n named) error {
		if n == "a" {
			return errTest
		}
		return nil
	})
	if fg.Breaker("a").State() != StateOpen {
		t.Fatalf("breaker a = %v, want open", fg.Breaker("a").State())
	}

	var tried []named
	_ = fg.Execute(func(n named) error {
		tried = append(tried, n)
		return nil
	})
	if !slices.Equal(tried, []named{"b"}) {
		t.Errorf("tried = %v, want [b]", tried)
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	fg := NewFallbackGroup(named("a"), "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	_ = fg.Execute(func(named) error { return errTest })

	err := fg.Execute(func(named) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker of unknown name should be nil")
	}
}
