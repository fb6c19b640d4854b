package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/probablyarth/connectreq"
	"github.com/probablyarth/connectreq/transport"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against HTTP",
		Long: `Run the steps of a scenario file against real HTTP endpoints.

Every step either attaches the coordinator with initial inputs, changes some
inputs, forces a refetch of every query and waits for it, waits for a
duration, or detaches. Each commit made by the transport is printed.

Example scenario:

  queries:
    user:
      url: "{{.base}}/users/{{.id}}"
      when: id
  steps:
    - attach: {base: "http://localhost:3000", id: "1"}
    - change: {id: "2"}
    - force: true
    - detach: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := LoadScenario(args[0])
			if err != nil {
				return err
			}

			log, flush, err := newLogger(rootOpts.Config.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runScenario(ctx, scenario, rootOpts.Config, &http.Client{Timeout: rootOpts.Config.Timeout}, cmd.OutOrStdout(), log)
		},
	}
}

// commitRecord is the printed form of a transport commit.
type commitRecord struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Force  bool   `json:"force"`
	Status int    `json:"status,omitempty"`
	Bytes  int    `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

// printer writes commits to w. Commits arrive from the executor's goroutines.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func (p *printer) commit(c transport.Commit) {
	rec := commitRecord{Name: c.Dispatch.Name, URL: c.Dispatch.Config.URL, Force: c.Dispatch.Config.Force}
	if c.Response != nil {
		rec.Status = c.Response.StatusCode
		rec.Bytes = len(c.Response.Body)
	}
	if c.Err != nil {
		rec.Error = c.Err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		_ = json.NewEncoder(p.w).Encode(rec)
		return
	}
	fmt.Fprintf(p.w, "commit %s %s force=%t status=%d bytes=%d", rec.Name, rec.URL, rec.Force, rec.Status, rec.Bytes)
	if rec.Error != "" {
		fmt.Fprintf(p.w, " error=%q", rec.Error)
	}
	fmt.Fprintln(p.w)
}

func runScenario(ctx context.Context, s *Scenario, cfg Config, client *http.Client, out io.Writer, log logr.Logger) error {
	p := &printer{w: out, format: cfg.Format}
	exec := transport.NewExecutor(transport.HTTPFetch(client),
		transport.WithLogger(log.WithName("transport")),
		transport.WithRetry(cfg.Retries+1, cfg.Backoff),
		transport.WithCommit(p.commit),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if err := exec.Close(closeCtx); err != nil {
			log.Error(err, "closing transport")
		}
	}()

	coord := connectreq.New(s.Deriver(), exec, connectreq.WithLogger(log.WithName("coordinator")))
	defer coord.Detach()

	var inputs Inputs
	for i, step := range s.Steps {
		log.V(1).Info("step", "n", i+1, "kind", step.Kind())

		var err error
		switch step.Kind() {
		case "attach":
			inputs = step.Attach
			err = coord.Attach(inputs)
		case "change":
			next := inputs.Merge(step.Change)
			if err = coord.Update(inputs, next); err == nil {
				inputs = next
			}
		case "force":
			err = force(ctx, coord, cfg.Timeout)
		case "wait":
			d, _ := time.ParseDuration(step.Wait)
			err = sleep(ctx, d)
		case "detach":
			coord.Detach()
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
	}
	return nil
}

func force(ctx context.Context, coord *connectreq.Coordinator[Inputs], timeout time.Duration) error {
	s, err := coord.ForceRequest()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Wait(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
