package netutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

type sleepRecorder struct{ waits []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func script(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		err := errs[calls]
		calls++
		return err
	}, &calls
}

func TestRunRetriesFloodThenSucceeds(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 2, Margin: 500 * time.Millisecond, Classify: ClassifyFlood(5 * time.Second), Sleep: rec.sleep}
	fn, calls := script(tele.FloodError{RetryAfter: 3}, nil)

	res := p.Run(context.Background(), fn)
	if !res.OK() || res.Attempts != 2 || *calls != 2 {
		t.Fatalf("unexpected result %+v calls=%d", res, *calls)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 3500*time.Millisecond {
		t.Fatalf("unexpected waits %v", rec.waits)
	}
}

func TestRunExhaustsWhileRateLimited(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 2, Margin: 500 * time.Millisecond, Classify: ClassifyFlood(5 * time.Second), Sleep: rec.sleep}
	fn, calls := script(tele.FloodError{}, tele.FloodError{})

	res := p.Run(context.Background(), fn)
	if res.OK() || res.Class != ClassRetry || *calls != 2 {
		t.Fatalf("unexpected result %+v calls=%d", res, *calls)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 5500*time.Millisecond {
		t.Fatalf("expected a single fallback wait, got %v", rec.waits)
	}
}

func TestRunStopsOnBlockedAndFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, ClassBlocked},
		{"wrapped blocked", fmt.Errorf("send: %w", &tele.Error{Code: 403}), ClassBlocked},
		{"bad request", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, ClassFatal},
		{"plain", errors.New("boom"), ClassFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &sleepRecorder{}
			p := Policy{MaxAttempts: 3, Classify: ClassifyFlood(time.Second), Sleep: rec.sleep}
			fn, calls := script(tc.err, nil, nil)
			res := p.Run(context.Background(), fn)
			if res.Class != tc.want || *calls != 1 || len(rec.waits) != 0 {
				t.Fatalf("got %+v calls=%d waits=%v", res, *calls, rec.waits)
			}
		})
	}
}

func TestRunUsesBackoffWithoutServerWait(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{
		MaxAttempts: 3,
		Classify:    func(error) Verdict { return Verdict{Class: ClassRetry} },
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
		Sleep:       rec.sleep,
	}
	fn, _ := script(errors.New("a"), errors.New("b"), errors.New("c"))
	res := p.Run(context.Background(), fn)
	if res.Attempts != 3 || res.OK() {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits %v", rec.waits)
	}
}

func TestRunStopsWhenSleepIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 3, Classify: ClassifyFlood(time.Second)}
	fn, calls := script(tele.FloodError{RetryAfter: 1}, nil, nil)
	res := p.Run(ctx, fn)
	if !errors.Is(res.Err, context.Canceled) || *calls != 1 {
		t.Fatalf("unexpected result %+v calls=%d", res, *calls)
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(tele.FloodError{RetryAfter: 1}); got != 429 {
		t.Fatalf("flood status = %d", got)
	}
	if got := StatusOf(&tele.Error{Code: 403}); got != 403 {
		t.Fatalf("api status = %d", got)
	}
	if got := StatusOf(errors.New("x")); got != 0 {
		t.Fatalf("plain status = %d", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyOutbound(t *testing.T) {
	c := ClassifyOutbound(2 * time.Second)
	if v := c(timeoutErr{}); v.Class != ClassRetry || v.Wait != 0 {
		t.Fatalf("timeout verdict %+v", v)
	}
	if v := c(tele.FloodError{}); v.Class != ClassRetry || v.Wait != 2*time.Second {
		t.Fatalf("flood verdict %+v", v)
	}
	if v := c(&tele.Error{Code: 403}); v.Class != ClassBlocked {
		t.Fatalf("blocked verdict %+v", v)
	}
	if v := c(errors.New("x")); v.Class != ClassFatal {
		t.Fatalf("plain verdict %+v", v)
	}
}
