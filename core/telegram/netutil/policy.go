package netutil

import (
	"context"
	"errors"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Class is the outcome of one delivery attempt.
type Class int

const (
	ClassOK Class = iota
	// ClassRetry means the attempt may be repeated after a wait.
	ClassRetry
	// ClassBlocked means the recipient is unreachable for good.
	ClassBlocked
	// ClassFatal is every other failure.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassRetry:
		return "retry"
	case ClassBlocked:
		return "blocked"
	default:
		return "fatal"
	}
}

// Verdict classifies an error. Wait is the server-specified delay for
// ClassRetry; zero defers to the policy backoff.
type Verdict struct {
	Class Class
	Wait  time.Duration
}

// Classifier maps an attempt error to a Verdict. It is never called with nil.
type Classifier func(err error) Verdict

// Policy is a bounded retry loop shared by every caller that repeats
// outbound calls.
type Policy struct {
	// MaxAttempts is the total number of tries, at least one.
	MaxAttempts int
	// Margin is added to every wait.
	Margin time.Duration
	Classify Classifier
	// Backoff supplies the wait when the verdict carries none.
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result reports how a Run ended.
type Result struct {
	Attempts int
	Class    Class
	Err      error
}

// OK reports whether the last attempt succeeded.
func (r Result) OK() bool { return r.Class == ClassOK }

// Run calls fn until it succeeds, fails for good, or runs out of attempts.
// There is no wait after the last attempt.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) Result {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = ClassifyTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var res Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		err := fn(ctx)
		if err == nil {
			return Result{Attempts: attempt, Class: ClassOK}
		}
		v := classify(err)
		res.Class, res.Err = v.Class, err
		if v.Class != ClassRetry || attempt == attempts {
			return res
		}

		wait := v.Wait
		if wait <= 0 && p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if err := sleep(ctx, wait+p.Margin); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// SleepContext blocks for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyFlood retries only Telegram flood control (429), waiting the
// advertised retry_after or fallback when none is given. A 403 marks the
// recipient blocked; everything else is fatal.
func ClassifyFlood(fallback time.Duration) Classifier {
	return func(err error) Verdict {
		var flood tele.FloodError
		if errors.As(err, &flood) {
			wait := time.Duration(flood.RetryAfter) * time.Second
			if wait <= 0 {
				wait = fallback
			}
			return Verdict{Class: ClassRetry, Wait: wait}
		}
		switch StatusOf(err) {
		case http.StatusTooManyRequests:
			return Verdict{Class: ClassRetry, Wait: fallback}
		case http.StatusForbidden:
			return Verdict{Class: ClassBlocked}
		}
		return Verdict{Class: ClassFatal}
	}
}

// ClassifyOutbound combines ClassifyFlood with ClassifyTransient: flood
// control and transient network failures are retried.
func ClassifyOutbound(fallback time.Duration) Classifier {
	flood := ClassifyFlood(fallback)
	return func(err error) Verdict {
		if v := flood(err); v.Class != ClassFatal {
			return v
		}
		return ClassifyTransient(err)
	}
}

// ClassifyTransient retries network errors reported by ShouldRetry.
func ClassifyTransient(err error) Verdict {
	if ShouldRetry(err) {
		return Verdict{Class: ClassRetry}
	}
	return Verdict{Class: ClassFatal}
}

// StatusOf extracts the Bot API status code carried by err, or 0.
func StatusOf(err error) int {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}
