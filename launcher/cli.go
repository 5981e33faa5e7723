package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/adir-intsights/sergeant/config"
	"github.com/adir-intsights/sergeant/connector"
	"github.com/adir-intsights/sergeant/health"
	"github.com/adir-intsights/sergeant/logging"
	"github.com/adir-intsights/sergeant/supervisor"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/watchdog"
	"github.com/adir-intsights/sergeant/worker"
)

// Launcher exit codes: 0 graceful stop, 1 configuration error, 2 broker
// unavailable. A critical timeout never reaches here; the killer takes the
// process down directly.
const (
	ExitCodeConfig    = 1
	ExitCodeConnector = 2
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to the worker TOML config",
	Required: true,
}

var workerFlag = &cli.StringFlag{
	Name:  "worker",
	Usage: "worker class to use (defaults to the config's name)",
}

// New builds the sergeant command tree over a worker registry.
func New(registry *Registry) *cli.Command {
	return &cli.Command{
		Name:  "sergeant",
		Usage: "distributed task-queue worker runner",
		Commands: []*cli.Command{
			runCommand(registry),
			produceCommand(),
			queuesCommand(),
		},
	}
}

func runCommand(registry *Registry) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "consume and execute tasks until stopped",
		Flags: []cli.Flag{
			configFlag,
			workerFlag,
			&cli.StringFlag{
				Name:  "ops-addr",
				Usage: "listen address for the ops HTTP endpoint (disabled when empty)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := logging.NewFromEnv()
			if err != nil {
				logger.Warn("log sink degraded", slog.Any("err", err))
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), ExitCodeConfig)
			}

			name := cmd.String("worker")
			if name == "" {
				name = cfg.Name
			}
			factory, ok := registry.Resolve(name)
			if !ok {
				return cli.Exit(
					fmt.Sprintf("unknown worker class %q (registered: %s)", name, strings.Join(registry.Names(), ", ")),
					ExitCodeConfig,
				)
			}

			handler, err := factory()
			if err != nil {
				return cli.Exit(err.Error(), ExitCodeConfig)
			}

			w, err := worker.New(cfg, handler, worker.WithLogger(logger))
			if err != nil {
				return cli.Exit(err.Error(), ExitCodeConfig)
			}
			if err := w.InitTaskQueue(); err != nil {
				return cli.Exit(err.Error(), ExitCodeConfig)
			}
			defer w.Close()

			monitor := health.NewMonitor(0)
			notifier := watchdog.New()
			defer notifier.Close()

			s, err := supervisor.New(w,
				supervisor.WithLogger(logger),
				supervisor.WithMonitor(monitor),
				supervisor.WithNotifier(notifier),
			)
			if err != nil {
				return cli.Exit(err.Error(), ExitCodeConfig)
			}

			if addr := cmd.String("ops-addr"); addr != "" {
				app := NewOpsApp(w, monitor, logger)
				go func() {
					if err := app.Listen(addr); err != nil {
						logger.Error("ops endpoint failed", slog.String("addr", addr), slog.Any("err", err))
					}
				}()
				defer func() { _ = app.Shutdown() }()
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := s.Run(runCtx); err != nil {
				if errors.Is(err, connector.ErrUnavailable) {
					return cli.Exit(err.Error(), ExitCodeConnector)
				}
				return err
			}

			return nil
		},
	}
}

func produceCommand() *cli.Command {
	return &cli.Command{
		Name:  "produce",
		Usage: "enqueue tasks",
		Flags: []cli.Flag{
			configFlag,
			workerFlag,
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of tasks to enqueue",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "kwargs",
				Usage: "task kwargs as a JSON object",
				Value: "{}",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w, name, err := openWorker(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			var kwargs task.Kwargs
			if err := json.Unmarshal([]byte(cmd.String("kwargs")), &kwargs); err != nil {
				return cli.Exit(fmt.Sprintf("bad kwargs: %v", err), ExitCodeConfig)
			}

			count := int(cmd.Int("count"))
			kwargsList := lo.Times(count, func(int) task.Kwargs {
				return kwargs
			})
			if err := w.ApplyAsyncManyNamed(ctx, name, kwargsList); err != nil {
				return exitBrokerErr(err)
			}

			fmt.Printf("enqueued %d task(s) to %s\n", count, name)
			return nil
		},
	}
}

func queuesCommand() *cli.Command {
	return &cli.Command{
		Name:  "queues",
		Usage: "inspect and manage queues",
		Commands: []*cli.Command{
			{
				Name:  "length",
				Usage: "print the number of enqueued tasks",
				Flags: []cli.Flag{configFlag, workerFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					w, name, err := openWorker(cmd)
					if err != nil {
						return err
					}
					defer w.Close()

					length, err := w.NumberOfEnqueuedTasksNamed(ctx, name)
					if err != nil {
						return exitBrokerErr(err)
					}

					fmt.Printf("%s: %d\n", name, length)
					return nil
				},
			},
			{
				Name:  "purge",
				Usage: "drop every enqueued task",
				Flags: []cli.Flag{configFlag, workerFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					w, name, err := openWorker(cmd)
					if err != nil {
						return err
					}
					defer w.Close()

					removed, err := w.PurgeTasksNamed(ctx, name)
					if err != nil {
						return exitBrokerErr(err)
					}

					fmt.Printf("%s: purged %d task(s)\n", name, removed)
					return nil
				},
			},
		},
	}
}

// openWorker builds a producer-side worker (no handler) from the config
// flag and returns it with the effective task name.
func openWorker(cmd *cli.Command) (*worker.Worker, string, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, "", cli.Exit(err.Error(), ExitCodeConfig)
	}

	w, err := worker.New(cfg, nil)
	if err != nil {
		return nil, "", cli.Exit(err.Error(), ExitCodeConfig)
	}
	if err := w.InitTaskQueue(); err != nil {
		return nil, "", cli.Exit(err.Error(), ExitCodeConfig)
	}

	name := cmd.String("worker")
	if name == "" {
		name = cfg.Name
	}

	return w, name, nil
}

func exitBrokerErr(err error) error {
	if errors.Is(err, connector.ErrUnavailable) {
		return cli.Exit(err.Error(), ExitCodeConnector)
	}

	return err
}

// Main is the conventional entrypoint for a worker binary: it runs the
// command tree and maps errors to exit codes.
func Main(registry *Registry) {
	cmd := New(registry)

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitErr.ExitCode())
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
