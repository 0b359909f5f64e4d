package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestResult(t *testing.T) {
	r := Ok(3)
	if !r.IsOk() || r.IsErr() || r.Error() != nil {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 3 || err != nil {
		t.Fatalf("got %d, %v", v, err)
	}

	e := Err[int](errBoom)
	if e.IsOk() || !errors.Is(e.Error(), errBoom) {
		t.Fatal("Err should carry the error")
	}
	if FromPair(0, errBoom).IsOk() || !FromPair(1, nil).IsOk() {
		t.Fatal("FromPair")
	}
}

func TestCollect(t *testing.T) {
	all, err := Collect([]Result[int]{Ok(1), Ok(2)}).Unwrap()
	if err != nil || len(all) != 2 || all[1] != 2 {
		t.Fatalf("got %v, %v", all, err)
	}
	second := errors.New("second")
	_, err = Collect([]Result[int]{Ok(1), Err[int](errBoom), Err[int](second)}).Unwrap()
	if !errors.Is(err, errBoom) {
		t.Fatalf("want first error, got %v", err)
	}
}

func TestThen(t *testing.T) {
	double := Lift(func(_ context.Context, n int) (int, error) { return n * 2, nil })
	format := Lift(func(_ context.Context, n int) (string, error) { return strconv.Itoa(n), nil })

	got, err := Then(double, format)(context.Background(), 21).Unwrap()
	if err != nil || got != "42" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestThenShortCircuits(t *testing.T) {
	var called bool
	fail := Lift(func(context.Context, int) (int, error) { return 0, errBoom })
	next := TapStage(func(context.Context, int) { called = true })

	if err := Then(fail, next)(context.Background(), 1).Error(); !errors.Is(err, errBoom) {
		t.Fatalf("got %v", err)
	}
	if called {
		t.Fatal("second stage should not run")
	}
}

func TestThenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := Lift(func(context.Context, int) (int, error) { cancel(); return 1, nil })
	var called bool
	second := TapStage(func(context.Context, int) { called = true })

	if err := Then(first, second)(ctx, 0).Error(); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if called {
		t.Fatal("second stage should not run after cancel")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	st := TracedStage("fail", Lift(func(context.Context, int) (int, error) { return 0, errBoom }))
	if !errors.Is(st(context.Background(), 1).Error(), errBoom) {
		t.Fatal("traced stage should keep the error")
	}
	ok := TracedStage("ok", Lift(func(_ context.Context, n int) (int, error) { return n + 1, nil }))
	if v, _ := ok(context.Background(), 1).Unwrap(); v != 2 {
		t.Fatalf("got %d", v)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var calls int
	var retried []int
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond,
		OnRetry: func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }}

	v, err := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errBoom)
		}
		return Ok("done")
	}).Unwrap()
	if err != nil || v != "done" || calls != 3 {
		t.Fatalf("got %q, %v after %d calls", v, err, calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("OnRetry attempts %v", retried)
	}
}

func TestRetryGivesUp(t *testing.T) {
	var calls int
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond},
		func(context.Context) Result[int] { calls++; return Err[int](errBoom) })
	if !errors.Is(r.Error(), errBoom) || calls != 2 {
		t.Fatalf("got %v after %d calls", r.Error(), calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("bad request")
	var calls int
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) }}

	Retry(context.Background(), opts, func(context.Context) Result[int] { calls++; return Err[int](permanent) })
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	var calls int
	Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] { calls++; return Err[int](errBoom) })
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 10, InitialWait: time.Hour}
	r := Retry(ctx, opts, func(context.Context) Result[int] { cancel(); return Err[int](errBoom) })
	if !errors.Is(r.Error(), context.Canceled) {
		t.Fatalf("got %v", r.Error())
	}
}

func TestSliceHelpers(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 || chunks[2][0] != 5 {
		t.Fatalf("Chunk = %v", chunks)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n=0 should be nil")
	}
	if got := Map([]int{1, 2}, strconv.Itoa); got[0] != "1" || got[1] != "2" {
		t.Fatalf("Map = %v", got)
	}
}

func TestParMapOrderAndBound(t *testing.T) {
	var inflight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := ParMap(context.Background(), items, 3, func(_ context.Context, n int) Result[int] {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return Ok(n * n)
	})
	for i, r := range out {
		if v, _ := r.Unwrap(); v != items[i]*items[i] {
			t.Fatalf("out[%d] = %d", i, v)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d > 3", peak.Load())
	}
}

func TestParMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ParMap(ctx, []int{1, 2}, 1, func(context.Context, int) Result[int] { return Ok(1) })
	for _, r := range out {
		if r.IsOk() {
			// A slot may have been acquired before the cancel was observed.
			continue
		}
		if !errors.Is(r.Error(), context.Canceled) {
			t.Fatalf("got %v", r.Error())
		}
	}
	if len(ParMap(context.Background(), []int(nil), 2, func(context.Context, int) Result[int] { return Ok(0) })) != 0 {
		t.Fatal("empty input")
	}
}
