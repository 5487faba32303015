package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/internal/console"
	"github.com/cgast/vxcore/internal/inspector"
	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/export"
	"github.com/cgast/vxcore/pkg/protocol"
	"github.com/cgast/vxcore/pkg/remote"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/sim"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/trial"
)

// runOptions are the flags of vx run.
type runOptions struct {
	simulate      bool
	realtime      bool
	participant   string
	intake        string
	runtimeCmd    string
	outDir        string
	stimuli       []string
	inspectorPort int
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run a session of an experiment",
		Long: `run drives one participant through an experiment.

By default the VR runtime is expected on stdin/stdout, speaking
line-delimited JSON-RPC 2.0. Use --runtime-cmd to spawn the runtime as a
subprocess instead, or --simulate to run against a simulated participant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("inspector-port") {
				opts.inspectorPort, _ = cmd.Flags().GetInt("inspector-port")
			} else {
				opts.inspectorPort = -1
			}
			return runExperiment(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Run against a simulated runtime and participant")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Pace the simulation with the wall clock")
	cmd.Flags().StringVar(&opts.participant, "participant", "", "Participant id (skips intake)")
	cmd.Flags().StringVar(&opts.intake, "intake", "runtime", "Where participant data is collected (runtime, console)")
	cmd.Flags().StringVar(&opts.runtimeCmd, "runtime-cmd", "", "Command that starts the VR runtime")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Output directory (overrides the experiment file)")
	cmd.Flags().StringArrayVar(&opts.stimuli, "stimulus", nil, "Runtime stimulus handle as key=handle (repeatable)")
	cmd.Flags().StringArray("param", nil, "Experiment parameter as name=value (repeatable)")
	cmd.Flags().Int64("seed", 0, "Randomization seed (overrides design.seed)")
	cmd.Flags().Int("inspector-port", 0, "Serve the session inspector on this port (0 disables)")
	return cmd
}

func runExperiment(cmd *cobra.Command, path string, opts runOptions) error {
	stderr := cmd.ErrOrStderr()

	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	exp, err := loadExperiment(cmd, path)
	if err != nil {
		return err
	}
	plan, err := design.BuildTrials(exp, seedFlag(cmd))
	if err != nil {
		return err
	}

	bus := events.NewMemoryBus()
	bus.Publish(events.NewEvent(events.EventExperimentLoad, map[string]any{
		"name": exp.Meta.Name,
		"path": path,
	}))
	bus.Publish(events.NewEvent(events.EventPlanGenerated, map[string]any{
		"source": plan.Source,
		"trials": plan.Trials.Len(),
		"seed":   plan.Seed,
	}))

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var conn *runtimeConn
	if opts.simulate {
		conn, err = openSimulation(exp.Config, opts, logger)
	} else {
		conn, err = openRemote(settings, exp.Config, opts, logger, bus)
	}
	if err != nil {
		return err
	}
	defer conn.close()

	deps := conn.deps
	deps.Bus = bus
	deps.Logger = logger

	switch opts.intake {
	case "runtime":
	case "console":
		if !opts.simulate && opts.runtimeCmd == "" {
			return fmt.Errorf("--intake console needs --runtime-cmd or --simulate: stdin carries the runtime link")
		}
		deps.Intake = console.Intake{In: os.Stdin, Out: stderr}
	default:
		return fmt.Errorf("unknown --intake %q (want runtime or console)", opts.intake)
	}

	sink, err := export.Open(export.Options{
		Dir:      outputDir(exp, settings, opts),
		Formats:  exp.Output.Formats,
		MySQLDSN: exp.Output.MySQLDSN,
		Logger:   logger,
		Bus:      bus,
	})
	if err != nil {
		return err
	}
	defer sink.Close()
	deps.Sink = sink

	if exp.Config.AutoSave {
		j, err := openJournal(settings.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}

	setup := session.Setup{
		Experiment:   exp.Meta.Name,
		Trials:       plan.Trials,
		Seed:         plan.Seed,
		Config:       exp.Config,
		Instructions: exp.Instructions,
	}
	if opts.participant != "" {
		setup.Participant = &session.Participant{ID: opts.participant}
	}
	ctrl := session.New(setup, deps)

	if conn.link != nil {
		conn.link.Handle(protocol.MethodSessionStatus, func(json.RawMessage) (any, *protocol.Error) {
			return ctrl.Snapshot(), nil
		})
	}

	port := opts.inspectorPort
	if port < 0 {
		port = 0
		if settings.Inspector.Enabled {
			port = settings.Inspector.Port
		}
	}
	if port > 0 {
		srv := inspector.New(bus, ctrl, logger)
		go func() {
			if err := srv.Serve(ctx, port); err != nil {
				logger.Warn("inspector stopped", "error", err)
			}
		}()
		fmt.Fprintf(stderr, "Inspector: http://127.0.0.1:%d\n", port)
	}

	conn.start(ctx, cancel)

	logger.Info("session starting",
		"session", ctrl.ID(),
		"experiment", exp.Meta.Name,
		"trials", plan.Trials.Len(),
		"seed", plan.Seed,
		"simulate", opts.simulate)

	rec, err := ctrl.Run(ctx)
	if err != nil {
		if deps.Journal != nil {
			fmt.Fprintf(stderr, "Completed trials are journaled. Export them with:\n  vx recover %s\n", ctrl.ID())
		}
		return fmt.Errorf("session %s: %w", ctrl.ID(), err)
	}

	fmt.Fprint(stderr, console.Summary(rec))
	return nil
}

// outputDir picks --out, then the experiment's output.dir (relative to
// the experiment file), then the settings default.
func outputDir(exp design.Experiment, settings config.Settings, opts runOptions) string {
	switch {
	case opts.outDir != "":
		return opts.outDir
	case exp.Output.Dir != "":
		return exp.Path(exp.Output.Dir)
	default:
		return settings.Output.Dir
	}
}

// runtimeConn is the runtime side of a session: its collaborators and
// how to start and stop it.
type runtimeConn struct {
	deps  session.Deps
	link  *remote.Link // nil when simulated
	start func(ctx context.Context, cancel context.CancelFunc)
	close func()
}

func openSimulation(cfg config.Config, opts runOptions, logger *slog.Logger) (*runtimeConn, error) {
	b := sim.DefaultBehavior()
	if opts.participant != "" {
		b.Participant.ID = opts.participant
	}
	rt := sim.New(cfg, b, sim.Options{Realtime: opts.realtime, Logger: logger})
	deps, err := rt.Deps()
	if err != nil {
		return nil, err
	}

	stop := func() {}
	return &runtimeConn{
		deps: deps,
		start: func(ctx context.Context, _ context.CancelFunc) {
			stop = rt.Start(ctx)
		},
		close: func() { stop() },
	}, nil
}

// defaultStimuli are the handles a runtime is expected to provide when
// no --stimulus flags are given.
var defaultStimuli = stimulus.Set{"left": "left", "right": "right", "fix": "fix"}

func stimulusSet(kvs []string) (stimulus.Set, error) {
	set := make(stimulus.Set, len(defaultStimuli))
	for k, h := range defaultStimuli {
		set[k] = h
	}
	for _, kv := range kvs {
		k, h, ok := strings.Cut(kv, "=")
		if !ok || k == "" || h == "" {
			return nil, fmt.Errorf("invalid --stimulus %q (want key=handle)", kv)
		}
		set[k] = stimulus.Handle(h)
	}
	return set, nil
}

func openRemote(settings config.Settings, cfg config.Config, opts runOptions, logger *slog.Logger, bus events.Publisher) (*runtimeConn, error) {
	set, err := stimulusSet(opts.stimuli)
	if err != nil {
		return nil, err
	}

	var (
		r     io.Reader = os.Stdin
		w     io.Writer = os.Stdout
		proc  *exec.Cmd
		stdin io.WriteCloser
	)
	if opts.runtimeCmd != "" {
		argv := strings.Fields(opts.runtimeCmd)
		proc = exec.Command(argv[0], argv[1:]...)
		proc.Stderr = os.Stderr
		if stdin, err = proc.StdinPipe(); err != nil {
			return nil, fmt.Errorf("runtime stdin: %w", err)
		}
		stdout, err := proc.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("runtime stdout: %w", err)
		}
		if err := proc.Start(); err != nil {
			return nil, fmt.Errorf("start runtime %q: %w", argv[0], err)
		}
		logger.Info("runtime started", "cmd", argv[0], "pid", proc.Process.Pid)
		r, w = stdout, stdin
	}

	trace := logging.OpenTraceFile(".vx", settings.LogLevel)
	link := remote.New(r, w, remote.Options{
		Logger: logger,
		Trace:  trace,
		Bus:    bus,
		Target: trial.ControllerHandle(cfg.Controller),
	})
	deps, err := link.Deps(set)
	if err != nil {
		trace.Close()
		return nil, err
	}

	return &runtimeConn{
		deps: deps,
		link: link,
		start: func(ctx context.Context, cancel context.CancelFunc) {
			go func() {
				// A closed link fails calls but not a pending reach wait.
				defer cancel()
				err := link.Run(ctx)
				switch {
				case err == nil:
					logger.Info("runtime link closed")
				case !errors.Is(err, context.Canceled):
					logger.Error("runtime link failed", "error", err)
				}
			}()
		},
		close: func() {
			defer trace.Close()
			if proc == nil {
				return
			}
			stdin.Close()
			waitRuntime(proc, 5*time.Second, logger)
		},
	}, nil
}

// waitRuntime gives the runtime process time to exit after runtime.quit
// and kills it afterwards.
func waitRuntime(proc *exec.Cmd, grace time.Duration, logger *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("runtime exited", "error", err)
		}
	case <-time.After(grace):
		logger.Warn("runtime did not exit, killing it", "pid", proc.Process.Pid)
		proc.Process.Kill()
		<-done
	}
}
