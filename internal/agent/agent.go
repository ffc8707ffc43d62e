package agent

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/sirupsen/logrus"
)

// MailboxPollInterval is how often the agent asks the server for a new symbol
const MailboxPollInterval = 5 * time.Second

// Server is the part of the metrics server API the agent uses
type Server interface {
	Register(ctx context.Context, id HostIdentity) (*RegisterResponse, error)
	SubmitMetrics(ctx context.Context, id HostIdentity, values map[string]float64) error
	SubmitPrice(ctx context.Context, symbol string, price float64) error
	Poll(ctx context.Context, id HostIdentity) (string, bool, error)
}

// State is the agent lifecycle state
type State int32

const (
	StateUnregistered State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures an Agent. Quotes may be nil, which disables the stock loop.
type Options struct {
	Identity           HostIdentity
	Server             Server
	Metrics            MetricSource
	Quotes             QuoteSource
	Symbols            *SymbolSet
	CollectionInterval time.Duration
	StockInterval      time.Duration
	RegisterAttempts   int

	// pollInterval overrides MailboxPollInterval in tests
	pollInterval time.Duration
	// backOff overrides the registration backoff policy in tests
	backOff func() backoff.BackOff
}

// Stats counts completed loop cycles, including ones that failed
type Stats struct {
	MetricsCycles int64
	StockCycles   int64
	MailboxCycles int64
	Panics        int64
}

// Agent runs the registration step and the metrics, stock and mailbox loops
type Agent struct {
	opts       Options
	state      atomic.Int32
	registered atomic.Bool
	log        *logrus.Entry

	metricsCycles atomic.Int64
	stockCycles   atomic.Int64
	mailboxCycles atomic.Int64
	panics        atomic.Int64
}

// New creates an agent. Zero intervals and attempts take their defaults.
func New(opts Options) *Agent {
	if opts.CollectionInterval <= 0 {
		opts.CollectionInterval = 10 * time.Second
	}
	if opts.StockInterval <= 0 {
		opts.StockInterval = 60 * time.Second
	}
	if opts.RegisterAttempts <= 0 {
		opts.RegisterAttempts = 3
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = MailboxPollInterval
	}
	if opts.backOff == nil {
		opts.backOff = registerBackOff
	}
	return &Agent{
		opts: opts,
		log: logs.Component("agent").WithFields(logrus.Fields{
			"device_id": opts.Identity.DeviceID,
			"mac":       opts.Identity.MACAddress,
		}),
	}
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Registered reports whether the startup registration succeeded
func (a *Agent) Registered() bool {
	return a.registered.Load()
}

// Stats returns the loop counters
func (a *Agent) Stats() Stats {
	return Stats{
		MetricsCycles: a.metricsCycles.Load(),
		StockCycles:   a.stockCycles.Load(),
		MailboxCycles: a.mailboxCycles.Load(),
		Panics:        a.panics.Load(),
	}
}

// Run registers and then runs the loops until ctx is cancelled. Each loop
// finishes its current cycle before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if a.register(ctx) {
		a.registered.Store(true)
	} else {
		a.log.Warn("registration failed; continuing offline")
	}
	if ctx.Err() != nil {
		return nil
	}
	a.state.Store(int32(StateActive))

	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, counter *atomic.Int64, cycle func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.loop(ctx, name, interval, counter, cycle)
		}()
	}

	start("metrics", a.opts.CollectionInterval, &a.metricsCycles, a.metricsCycle)
	if a.opts.Quotes != nil {
		start("stocks", a.opts.StockInterval, &a.stockCycles, a.stockCycle)
	} else {
		a.log.Warn("no quote API key configured; stock loop disabled")
	}
	start("mailbox", a.opts.pollInterval, &a.mailboxCycles, a.mailboxCycle)

	a.log.Info("agent active")
	<-ctx.Done()
	wg.Wait()
	a.log.Info("agent stopped")
	return nil
}

// registerBackOff waits 1s, 2s, 4s and so on between registration attempts
func registerBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Minute
	return bo
}

// register tries up to RegisterAttempts times with exponential backoff
func (a *Agent) register(ctx context.Context) bool {
	attempt := 0
	operation := func() (*RegisterResponse, error) {
		attempt++
		resp, err := a.opts.Server.Register(ctx, a.opts.Identity)
		if err != nil {
			a.log.WithError(err).WithField("attempt", attempt).Warn("registration attempt failed")
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(a.opts.backOff()),
		backoff.WithMaxTries(uint(a.opts.RegisterAttempts)),
		backoff.WithNotify(func(_ error, next time.Duration) {
			a.log.WithField("retry_in", next).Debug("retrying registration")
		}),
	)
	if err != nil {
		return false
	}
	a.log.WithField("action", resp.Action).Info("registered with server")
	return true
}

func (a *Agent) loop(ctx context.Context, name string, interval time.Duration, counter *atomic.Int64, cycle func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.safeCycle(name, cycle, ctx)
		counter.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeCycle runs one iteration; a panic is logged and swallowed so the loop
// keeps going
func (a *Agent) safeCycle(name string, cycle func(context.Context), ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.panics.Add(1)
			a.log.WithField("loop", name).Errorf("cycle panicked: %v", r)
		}
	}()
	cycle(ctx)
}

func (a *Agent) metricsCycle(ctx context.Context) {
	values, err := a.opts.Metrics.Collect(ctx)
	if err != nil {
		if len(values) == 0 {
			a.log.WithError(err).Warn("metric collection failed")
			return
		}
		a.log.WithError(err).Debug("some metrics could not be collected")
	}

	if err := a.opts.Server.SubmitMetrics(ctx, a.opts.Identity, values); err != nil {
		a.log.WithError(err).Warn("failed to submit metrics")
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func (a *Agent) stockCycle(ctx context.Context) {
	for _, symbol := range a.opts.Symbols.List() {
		if ctx.Err() != nil {
			return
		}
		entry := a.log.WithField("symbol", symbol)

		price, err := a.opts.Quotes.Quote(ctx, symbol)
		if err != nil {
			entry.WithError(err).Warn("failed to fetch quote")
			continue
		}

		if !validPrice(price) {
			if _, err := a.opts.Symbols.Remove(symbol); err != nil {
				entry.WithError(err).Error("failed to persist symbol removal")
			}
			entry.WithField("price", price).Warn("no valid price; symbol no longer tracked")
			continue
		}

		if err := a.opts.Server.SubmitPrice(ctx, symbol, price); err != nil {
			entry.WithError(err).Warn("failed to submit price")
		}
	}
}

func (a *Agent) mailboxCycle(ctx context.Context) {
	symbol, ok, err := a.opts.Server.Poll(ctx, a.opts.Identity)
	if err != nil {
		a.log.WithError(err).Warn("mailbox poll failed")
		return
	}
	if !ok {
		return
	}

	added, err := a.opts.Symbols.Add(symbol)
	if err != nil {
		a.log.WithError(err).WithField("symbol", symbol).Error("failed to persist new symbol")
		return
	}
	if added {
		a.log.WithField("symbol", symbol).Info("now tracking symbol")
	}
}
