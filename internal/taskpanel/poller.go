package taskpanel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"echodesk/cli/internal/logging"
)

const DefaultInterval = time.Second

type PollerOptions struct {
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// OnChange is called from the poll goroutine whenever the decision's
	// visibility, state or task changes.
	OnChange func(Decision)
	Logger   *slog.Logger
}

// Poller fetches the latest task on an interval and feeds it to a Panel.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	now      func() time.Time
	onChange func(Decision)
	logger   *slog.Logger

	mu      sync.Mutex
	panel   Panel
	last    Decision
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(fetcher Fetcher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		fetcher:  fetcher,
		interval: opts.Interval,
		now:      opts.Now,
		onChange: opts.OnChange,
		logger:   logging.OrDiscard(opts.Logger).With("module", "taskpanel"),
		last:     Decision{State: StateEmpty},
	}
}

// Start begins polling in the background: one tick right away, then one per
// interval. It fails if the poller was already started.
func (p *Poller) Start(ctx context.Context) error {
	if p.fetcher == nil {
		return errors.New("task fetcher is required")
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.started = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.loop(runCtx, done)
	return nil
}

// Stop cancels polling and waits for the loop to exit. It is safe to call
// more than once and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		if done != nil {
			<-done
		}
		return
	}
	cancel()
	<-done
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one fetch and evaluation. A fetch error counts as no task.
func (p *Poller) Tick(ctx context.Context) Decision {
	task, err := p.fetcher.LatestTask(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.Current()
		}
		p.logger.Debug("fetch latest task failed", "error", err)
		task = nil
	}

	p.mu.Lock()
	decision := p.panel.Observe(task, p.now())
	changed := decisionChanged(p.last, decision)
	p.last = decision
	onChange := p.onChange
	p.mu.Unlock()

	if changed && onChange != nil {
		onChange(decision)
	}
	return decision
}

// Current returns the most recent decision.
func (p *Poller) Current() Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func decisionChanged(prev, next Decision) bool {
	if prev.Visible != next.Visible || prev.State != next.State {
		return true
	}
	if (prev.Task == nil) != (next.Task == nil) {
		return true
	}
	if prev.Task == nil {
		return false
	}
	if prev.Task.ID != next.Task.ID || !prev.Task.UpdatedAt.Equal(next.Task.UpdatedAt) {
		return true
	}
	return false
}
