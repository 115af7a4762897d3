// Package pump implements the Pump (§4.5): two concurrent bidirectional
// forwarders between an editor and an agent subprocess, plus a verbatim
// stderr passthrough. Each forwarder reads a frame, hands a synchronous,
// non-blocking view to the Span Manager for observation, then writes the
// frame unchanged to the opposite side. Grounded on the read-loop/handler
// dispatch shape of a bytesmith-style stdio transport, generalized from a
// single agent-facing transport into a two-sided pump.
package pump

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/acp-traces/acp-traces/internal/acp"
	"github.com/acp-traces/acp-traces/internal/telemetry"
	"github.com/acp-traces/acp-traces/internal/wire"
)

// stderrLineCap bounds a single stderr line so an unbounded child write
// cannot grow memory without limit; grounded on the same bytesmith pattern
// used for stdout, sized down since stderr carries logs, not tool payloads.
const stderrLineCap = 1 * 1024 * 1024

// Pump owns the four subprocess-facing streams and drives the two framing
// loops plus stderr passthrough described in §4.5.
type Pump struct {
	editorIn   io.Reader // editor stdin, as seen by us (our stdin)
	editorOut  io.Writer // our stdout, read by the editor
	agentIn    io.Writer // agent's stdin
	agentOut   io.Reader // agent's stdout
	agentErr   io.Reader // agent's stderr
	stderrSink io.Writer // where we forward the agent's stderr (our stderr)

	manager *telemetry.Manager
	logger  *slog.Logger

	// errCh is allocated by New but nothing sends on it or reads it: a
	// fatal forwarding error reaches the Shutdown Coordinator through the
	// Result each loop returns from Run.
	errCh chan error
}

// New builds a Pump wired to the given streams. editorIn/editorOut are our
// own stdin/stdout (the editor's view of us); agentIn/agentOut/agentErr are
// the spawned child's stdin/stdout/stderr.
func New(editorIn io.Reader, editorOut io.Writer, agentIn io.Writer, agentOut, agentErr io.Reader, stderrSink io.Writer, manager *telemetry.Manager, logger *slog.Logger) *Pump {
	return &Pump{
		editorIn:   editorIn,
		editorOut:  editorOut,
		agentIn:    agentIn,
		agentOut:   agentOut,
		agentErr:   agentErr,
		stderrSink: stderrSink,
		manager:    manager,
		logger:     logger,
		errCh:      make(chan error, 2),
	}
}

// Direction summarizes which forwarding loop terminated and why, reported
// back to the Shutdown Coordinator.
type Direction string

const (
	EditorToAgent Direction = "editor_to_agent"
	AgentToEditor Direction = "agent_to_editor"
)

// Result is what a single forwarding loop reports on termination.
type Result struct {
	Direction Direction
	Err       error // nil on clean EOF
}

// Run starts both forwarding loops and the stderr passthrough, blocking
// until both forwarding loops terminate (by EOF or error) or ctx is
// cancelled. It returns the two loops' results for the Shutdown Coordinator
// to interpret (§4.6).
func (p *Pump) Run(ctx context.Context) []Result {
	results := make(chan Result, 2)

	go func() {
		results <- p.forward(ctx, EditorToAgent, p.editorIn, p.agentIn, telemetry.DirEditorToAgent)
	}()
	go func() {
		results <- p.forward(ctx, AgentToEditor, p.agentOut, p.editorOut, telemetry.DirAgentToEditor)
	}()
	go p.forwardStderr()

	var out []Result
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			out = append(out, r)
		case <-ctx.Done():
			return out
		}
	}
	return out
}

// forward runs one direction's frame loop: read → classify → dispatch (pure,
// non-blocking, §5) → write unchanged. Read EOF is a clean termination
// signal; a read or write error is fatal to this direction (§4.1, §4.5).
func (p *Pump) forward(ctx context.Context, dir Direction, src io.Reader, dst io.Writer, telemetryDir telemetry.Direction) Result {
	reader := wire.NewFrameReader(src)
	writer := wire.NewFrameWriter(dst)

	for {
		select {
		case <-ctx.Done():
			return Result{Direction: dir, Err: ctx.Err()}
		default:
		}

		raw, err := reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return Result{Direction: dir}
			}
			return Result{Direction: dir, Err: fmt.Errorf("pump: read %s: %w", dir, err)}
		}

		msg := acp.Classify(raw)
		if msg.Kind != acp.KindMalformed {
			p.manager.Dispatch(ctx, msg, telemetryDir, time.Now())
		}

		if err := writer.WriteFrame(raw); err != nil {
			return Result{Direction: dir, Err: fmt.Errorf("pump: write %s: %w", dir, err)}
		}
	}
}

// forwardStderr copies the agent's stderr to our own stderr verbatim, with
// no observation whatsoever (§4.5), one line at a time with a "\n" after
// each. A line longer than stderrLineCap makes the scanner fail: that line
// and everything after it are not forwarded, and the error is logged.
func (p *Pump) forwardStderr() {
	scanner := bufio.NewScanner(p.agentErr)
	scanner.Buffer(make([]byte, 0, 64*1024), stderrLineCap)

	for scanner.Scan() {
		line := scanner.Bytes()
		if _, err := p.stderrSink.Write(line); err != nil {
			return
		}
		if _, err := p.stderrSink.Write([]byte{'\n'}); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("stderr passthrough ended with an error", "error", err)
	}
}
