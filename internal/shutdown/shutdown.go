// Package shutdown implements the Shutdown Coordinator (§4.6): it reacts to
// whichever trigger fires first (editor EOF, agent exit, signal, fatal write
// error), drains the Session Store so no span handle leaks, flushes the
// exporter within a bounded deadline, and resolves the process exit code.
package shutdown

import (
	"context"
	"log/slog"
	"time"

	"github.com/acp-traces/acp-traces/internal/pump"
	"github.com/acp-traces/acp-traces/internal/telemetry"
)

// Coordinator owns the shutdown sequence described in §4.6.
type Coordinator struct {
	manager       *telemetry.Manager
	logger        *slog.Logger
	flushDeadline time.Duration
}

// New builds a Coordinator over the Span Manager whose Session Store it will
// drain, using flushDeadline as the bounded exporter flush window (§4.6 step
// 3; spec's example default is 5s, see telemetry.DefaultFlushDeadline).
func New(manager *telemetry.Manager, logger *slog.Logger, flushDeadline time.Duration) *Coordinator {
	return &Coordinator{manager: manager, logger: logger, flushDeadline: flushDeadline}
}

// Outcome is the resolved result of one shutdown sequence: the exit code to
// propagate and whether a fatal forwarding error occurred.
type Outcome struct {
	ExitCode int
	Fatal    bool
}

// Finish runs the full §4.6 procedure once both pump directions have
// terminated (by EOF or error) and the child process has been waited on.
// childExitCode is the exit status the caller observed from cmd.Wait;
// childWaitErr is non-nil if the child could not be waited on or had to be
// killed, in which case the resolved exit code is 1.
func (c *Coordinator) Finish(ctx context.Context, results []pump.Result, childExitCode int, childWaitErr error) Outcome {
	c.drainAbandoned()
	c.flush(ctx)

	var fatal bool
	for _, r := range results {
		if r.Err != nil && r.Err != context.Canceled {
			c.logger.Error("pump direction ended with a fatal error", "direction", r.Direction, "error", r.Err)
			fatal = true
		}
	}

	if fatal {
		return Outcome{ExitCode: 1, Fatal: true}
	}
	if childWaitErr != nil {
		c.logger.Error("failed to wait on child process", "error", childWaitErr)
		return Outcome{ExitCode: 1, Fatal: true}
	}
	return Outcome{ExitCode: childExitCode}
}

// drainAbandoned implements §4.6 step 2: every still-open span is ended with
// error.type="abandoned" so no handle is left unterminated (§8 span-pair
// closure).
func (c *Coordinator) drainAbandoned() {
	handles := c.manager.State().Drain()
	now := time.Now()
	for _, h := range handles {
		c.manager.Emitter().RecordError(h, "abandoned", "shutdown before span completed")
		c.manager.Emitter().EndSpan(h, now)
	}
	if len(handles) > 0 {
		c.logger.Info("ended abandoned spans on shutdown", "count", len(handles))
	}
}

// flush implements §4.6 step 3: a bounded exporter flush, logged but never
// fatal (§7 "exporter errors... the core logs and continues").
func (c *Coordinator) flush(ctx context.Context) {
	if err := c.manager.Emitter().Shutdown(ctx, c.flushDeadline); err != nil {
		c.logger.Warn("exporter flush did not complete cleanly", "error", err)
	}
}
