// Command acp-traces is a transparent stdio interceptor for the Agent
// Client Protocol: it spawns the given agent command, forwards every
// JSON-RPC frame between the editor (its own stdin/stdout) and the agent
// unchanged, and emits OpenTelemetry traces and metrics describing the
// observed turns, tool calls, and permission prompts (§1, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acp-traces/acp-traces/internal/config"
	"github.com/acp-traces/acp-traces/internal/logger"
	"github.com/acp-traces/acp-traces/internal/pump"
	"github.com/acp-traces/acp-traces/internal/shutdown"
	"github.com/acp-traces/acp-traces/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	var verbose int
	exitCode := 0

	childArgs, err := splitChildCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "acp-traces:", err)
		return 2
	}

	rootCmd := &cobra.Command{
		Use:           "acp-traces [flags] -- <command> [args...]",
		Short:         "Transparent OpenTelemetry interceptor for ACP agent subprocesses",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnvOverrides()
			cfg.Verbose = verbose
			code, err := runInterceptor(cfg, childArgs.command)
			exitCode = code
			return err
		},
	}

	rootCmd.Flags().StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "Exporter endpoint")
	rootCmd.Flags().StringVar(&cfg.OTLPProtocol, "otlp-protocol", cfg.OTLPProtocol, "Transport selector: grpc or http")
	rootCmd.Flags().StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "service.name resource attribute")
	rootCmd.Flags().BoolVar(&cfg.RecordContent, "record-content", false, "Enable opt-in content attributes")
	rootCmd.Flags().CountVarP(&verbose, "verbose", "v", "Increase stderr log verbosity (repeatable)")
	rootCmd.SetArgs(childArgs.flagArgs)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acp-traces:", err)
		return 2
	}
	return exitCode
}

// childCommand is the result of splitting the CLI at `--`: cobra flags
// before it, the child command and its own arguments after.
type childCommand struct {
	flagArgs []string
	command  []string
}

// splitChildCommand implements §6.1's `acp-traces [OPTIONS] -- <command>
// [args...]` shape: everything after a literal "--" is the child's own
// argv and must never be parsed as a flag of ours.
func splitChildCommand(args []string) (childCommand, error) {
	for i, a := range args {
		if a == "--" {
			if i+1 >= len(args) {
				return childCommand{}, fmt.Errorf("acp-traces: no command given after --")
			}
			return childCommand{flagArgs: args[:i], command: args[i+1:]}, nil
		}
	}
	return childCommand{}, fmt.Errorf("acp-traces: expected -- <command> [args...]")
}

func runInterceptor(cfg config.Config, command []string) (int, error) {
	if err := logger.Init(logger.Config{Verbosity: cfg.Verbose, Component: "acp-traces"}); err != nil {
		return 1, fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.WithComponent("acp-traces")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter, err := telemetry.NewEmitter(ctx, telemetry.ProviderConfig{
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPProtocol: cfg.OTLPProtocol,
		ServiceName:  cfg.ServiceName,
	})
	if err != nil {
		return 1, fmt.Errorf("building telemetry emitter: %w", err)
	}
	manager := telemetry.NewManager(emitter, cfg.RecordContent)

	child := exec.CommandContext(ctx, command[0], command[1:]...)
	child.Env = os.Environ()

	agentIn, err := child.StdinPipe()
	if err != nil {
		return 1, fmt.Errorf("opening child stdin: %w", err)
	}
	agentOut, err := child.StdoutPipe()
	if err != nil {
		return 1, fmt.Errorf("opening child stdout: %w", err)
	}
	agentErr, err := child.StderrPipe()
	if err != nil {
		return 1, fmt.Errorf("opening child stderr: %w", err)
	}

	if err := child.Start(); err != nil {
		return 1, fmt.Errorf("starting agent %q: %w", command[0], err)
	}

	p := pump.New(os.Stdin, os.Stdout, agentIn, agentOut, agentErr, os.Stderr, manager, log)
	results := p.Run(ctx)

	// Close the agent's stdin once both forwarding loops have ended, so an
	// agent waiting on further input sees EOF instead of hanging. Then give
	// it a bounded window to exit on its own before killing it outright.
	agentIn.Close()
	childExitCode, waitErr := waitWithTimeout(child, childWaitTimeout)

	coord := shutdown.New(manager, log, telemetry.DefaultFlushDeadline)
	outcome := coord.Finish(context.Background(), results, childExitCode, waitErr)
	return outcome.ExitCode, nil
}

// childWaitTimeout bounds how long the agent gets to exit after its stdin
// closes before this tool kills it outright, mirroring the spec's abandoned
// shutdown scenario (§8 scenario 5: the child must be reaped).
const childWaitTimeout = 5 * time.Second

// waitWithTimeout waits for the child to exit, force-killing it if it takes
// longer than timeout to do so on its own.
func waitWithTimeout(child *exec.Cmd, timeout time.Duration) (int, error) {
	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	case <-time.After(timeout):
		child.Process.Kill()
		<-done
		return 1, fmt.Errorf("acp-traces: agent did not exit within %s after stdin closed, killed", timeout)
	}
}
