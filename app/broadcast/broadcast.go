// Package broadcast delivers one payload to a user population in fixed size
// batches. Recipients of a batch are served concurrently and the batch is
// joined before the next one starts; a fixed delay separates batches to stay
// under the Bot API throughput ceiling.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/netutil"
)

// Deliver sends the payload to one recipient.
type Deliver func(ctx context.Context, recipient int64, p Payload) error

// Sender is the part of the bot Deliver needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Via returns a Deliver sending through s.
func Via(s Sender) Deliver {
	return func(_ context.Context, recipient int64, p Payload) error {
		what, err := p.Sendable()
		if err != nil {
			return err
		}
		_, err = s.Send(tele.ChatID(recipient), what)
		return err
	}
}

// Options configure a Dispatcher.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// Policy is applied to every recipient.
	Policy netutil.Policy
	// Sleep waits between batches. Defaults to netutil.SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions mirror the Bot API broadcast limits: ten recipients every
// two and a half seconds, one retry on flood control.
func DefaultOptions() Options {
	return Options{
		BatchSize:  10,
		BatchDelay: 2500 * time.Millisecond,
		Policy: netutil.Policy{
			MaxAttempts: 2,
			Margin:      500 * time.Millisecond,
			Classify:    netutil.ClassifyFlood(5 * time.Second),
		},
	}
}

// Progress is reported after every batch with running totals.
type Progress struct {
	Batch   int
	Batches int
	Success int
	Failed  int
	Total   int
}

// Report is the outcome of a run. Success+Failed always equals Total.
type Report struct {
	Success int
	Failed  int
	// Blocked counts failures of recipients that blocked the bot.
	Blocked int
	Total   int
	Batches int
	Elapsed time.Duration
}

// Dispatcher runs broadcasts.
type Dispatcher struct {
	deliver Deliver
	opts    Options
}

// New returns a Dispatcher. Zero options take DefaultOptions values.
func New(deliver Deliver, opts Options) *Dispatcher {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = def.Policy.MaxAttempts
	}
	if opts.Policy.Classify == nil {
		opts.Policy.Classify = def.Policy.Classify
	}
	if opts.Sleep == nil {
		opts.Sleep = netutil.SleepContext
	}
	if opts.Policy.Sleep == nil {
		opts.Policy.Sleep = opts.Sleep
	}
	return &Dispatcher{deliver: deliver, opts: opts}
}

// Batches partitions ids into consecutive groups of at most size.
func Batches(ids []int64, size int) [][]int64 {
	if size < 1 {
		size = 1
	}
	out := make([][]int64, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

// Run delivers p to every recipient and reports the totals. It always works
// through every batch; individual failures are only counted.
func (d *Dispatcher) Run(ctx context.Context, recipients []int64, p Payload, progress func(Progress)) Report {
	start := time.Now()
	batches := Batches(recipients, d.opts.BatchSize)
	rep := Report{Total: len(recipients), Batches: len(batches)}

	logger.Info(ctx, "broadcast", "broadcast.start",
		slog.String("status", "ok"),
		slog.String("kind", string(p.Kind)),
		slog.Int("total", rep.Total),
		slog.Int("batches", rep.Batches),
	)

	for i, batch := range batches {
		if i > 0 && d.opts.BatchDelay > 0 {
			_ = d.opts.Sleep(ctx, d.opts.BatchDelay)
		}
		results := d.runBatch(ctx, batch, p)
		for _, res := range results {
			if res.OK() {
				rep.Success++
				continue
			}
			rep.Failed++
			if res.Class == netutil.ClassBlocked {
				rep.Blocked++
			}
		}
		if progress != nil {
			progress(Progress{Batch: i + 1, Batches: rep.Batches, Success: rep.Success, Failed: rep.Failed, Total: rep.Total})
		}
	}

	rep.Elapsed = time.Since(start)
	logger.Info(ctx, "broadcast", "broadcast.done",
		slog.String("status", "ok"),
		slog.Int("success", rep.Success),
		slog.Int("failed", rep.Failed),
		slog.Int("blocked", rep.Blocked),
		slog.Int("total", rep.Total),
		slog.Duration("duration", logger.RoundMS(rep.Elapsed)),
	)
	return rep
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []int64, p Payload) []netutil.Result {
	results := make([]netutil.Result, len(batch))
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i, id := range batch {
		go func(i int, id int64) {
			defer wg.Done()
			results[i] = d.opts.Policy.Run(ctx, func(ctx context.Context) error {
				return d.deliver(ctx, id, p)
			})
			if !results[i].OK() {
				logger.Debug(ctx, "broadcast", "deliver.fail",
					slog.String("status", "fail"),
					slog.Int64("recipient", id),
					slog.String("class", results[i].Class.String()),
					slog.Int("attempts", results[i].Attempts),
				)
			}
		}(i, id)
	}
	wg.Wait()
	return results
}
