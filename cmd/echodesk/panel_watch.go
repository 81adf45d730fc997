package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"echodesk/cli/internal/command"
	"echodesk/cli/internal/config"
	"echodesk/cli/internal/taskpanel"
)

type panelLine struct {
	At      time.Time       `json:"at"`
	Visible bool            `json:"visible"`
	State   taskpanel.State `json:"state"`
	TaskID  string          `json:"task_id,omitempty"`
	Title   string          `json:"title,omitempty"`
	Done    int             `json:"done"`
	Total   int             `json:"total"`
}

// panelPrinter writes one JSON line per visibility change.
type panelPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newPanelPrinter(out io.Writer) *panelPrinter {
	return &panelPrinter{enc: json.NewEncoder(out), now: time.Now}
}

func (p *panelPrinter) Print(d taskpanel.Decision) {
	line := panelLine{At: p.now().UTC(), Visible: d.Visible, State: d.State}
	if d.Task != nil {
		line.TaskID = d.Task.ID
		line.Title = d.Task.Title
		line.Done, line.Total = taskpanel.Progress(*d.Task)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(line)
}

func runPanelWatch(ctx context.Context, out io.Writer, cfg config.Config, opts command.PanelWatchOptions) error {
	logger := newRuntimeLogger(os.Stderr, cfg)
	printer := newPanelPrinter(out)
	poller := taskpanel.NewPoller(taskpanel.NewHTTPFetcher(opts.BaseURL, cfg.APIToken, nil), taskpanel.PollerOptions{
		Interval: opts.Interval,
		OnChange: printer.Print,
		Logger:   logger.With("module", "panel-watch"),
	})
	return poller.Run(ctx)
}
