// Command taskmesh runs the worker and submitter sides of the task mesh
// against a shared Redis instance. Configuration comes from flags with .env
// fallbacks (REDIS_ADDR, OPENAI_API_KEY, ANTHROPIC_API_KEY).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hupe1980/taskmesh/broker"
	"github.com/hupe1980/taskmesh/core"
	anthropicexec "github.com/hupe1980/taskmesh/executor/anthropic"
	openaiexec "github.com/hupe1980/taskmesh/executor/openai"
	"github.com/hupe1980/taskmesh/logging"
	redisstore "github.com/hupe1980/taskmesh/resultstore/redis"
	"github.com/hupe1980/taskmesh/submitter"
	redistransport "github.com/hupe1980/taskmesh/transport/redis"
	"github.com/hupe1980/taskmesh/worker"
)

var (
	flagRedisAddr     string
	flagRedisPassword string
	flagRedisDB       int
	flagLogLevel      string
	flagLogFormat     string

	flagConcurrency       int
	flagExecTimeout       time.Duration
	flagOverflowThreshold int
	flagOverflowTTL       time.Duration

	flagWait   time.Duration
	flagOutput string
)

func main() {
	root := &cobra.Command{
		Use:           "taskmesh",
		Short:         "Asynchronous agent-task broker over Redis pub/sub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing .env is fine; flags and the environment still apply.
			_ = godotenv.Load()
			if !cmd.Flags().Changed("redis-addr") {
				if addr := os.Getenv("REDIS_ADDR"); addr != "" {
					flagRedisAddr = addr
				}
			}
		},
	}

	root.PersistentFlags().StringVar(&flagRedisAddr, "redis-addr", "localhost:6379", "redis address")
	root.PersistentFlags().StringVar(&flagRedisPassword, "redis-password", "", "redis password")
	root.PersistentFlags().IntVar(&flagRedisDB, "redis-db", 0, "redis database")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text|json)")
	root.PersistentFlags().IntVar(&flagOverflowThreshold, "overflow-threshold", 0, "overflow payload threshold in bytes (0 = broker default)")
	root.PersistentFlags().DurationVar(&flagOverflowTTL, "overflow-ttl", 0, "overflow payload retention (0 = broker default)")

	root.AddCommand(newWorkerCmd(), newSubmitCmd(), newResultCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker consuming the task-submission topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("worker")
			b, closeFn := newBroker(logger)
			defer closeFn()

			d := worker.New(b, func(o *worker.Options) {
				o.Config = worker.Config{
					Concurrency: flagConcurrency,
					ExecTimeout: flagExecTimeout,
				}
				o.Logger = logger
			})

			if os.Getenv("OPENAI_API_KEY") != "" {
				d.Register("openai", openaiexec.New())
				logger.Info("executor registered", "agent_type", "openai")
			}
			if os.Getenv("ANTHROPIC_API_KEY") != "" {
				d.Register("claude", anthropicexec.New())
				logger.Info("executor registered", "agent_type", "claude")
			}
			d.Register("echo", core.ExecutorFunc(
				func(_ context.Context, prompt string, _ core.ProgressFunc) (json.RawMessage, error) {
					return json.Marshal(map[string]string{"echo": prompt})
				}))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&flagConcurrency, "concurrency", worker.DefaultConfig.Concurrency, "max concurrent tasks")
	cmd.Flags().DurationVar(&flagExecTimeout, "exec-timeout", worker.DefaultConfig.ExecTimeout, "per-task execution timeout")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <agent-type> <prompt>",
		Short: "Submit a task and optionally wait for its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("submit")
			b, closeFn := newBroker(logger)
			defer closeFn()

			svc := submitter.New(b, func(o *submitter.Options) { o.Logger = logger })
			defer svc.Close()

			var submitOpts []func(o *submitter.SubmitOptions)
			if flagOutput != "" {
				submitOpts = append(submitOpts, submitter.WithOutputPath(flagOutput))
			}

			taskID, err := svc.SubmitTask(cmd.Context(), args[0], args[1], submitOpts...)
			if err != nil {
				return err
			}
			fmt.Println(taskID)

			if flagWait <= 0 {
				return nil
			}

			result, err := svc.WaitForResult(cmd.Context(), taskID, flagWait)
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("no result within %s (task %s keeps running)", flagWait, taskID)
			}
			return printResult(result, flagOutput)
		},
	}

	cmd.Flags().DurationVar(&flagWait, "wait", 0, "wait this long for the result (0 = fire and forget)")
	cmd.Flags().StringVar(&flagOutput, "output", "", "write the completed result payload to this file")
	return cmd
}

func newResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result <task-id>",
		Short: "Poll the overflow store for a task's result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("result")
			b, closeFn := newBroker(logger)
			defer closeFn()

			result, err := b.GetResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("no stored result for task %s (expired, inline, or never completed)", args[0])
			}
			return printResult(result, flagOutput)
		},
	}

	cmd.Flags().StringVar(&flagOutput, "output", "", "write the result payload to this file")
	return cmd
}

func newLogger(component string) *logging.TaskMeshLogger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Format = flagLogFormat
	cfg.Output = os.Stderr
	cfg.Component = component
	switch flagLogLevel {
	case "debug":
		cfg.Level = logging.LogLevelDebug
	case "warn":
		cfg.Level = logging.LogLevelWarn
	case "error":
		cfg.Level = logging.LogLevelError
	default:
		cfg.Level = logging.LogLevelInfo
	}
	return logging.NewLogger(cfg)
}

func newBroker(logger logging.Logger) (*broker.Broker, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     flagRedisAddr,
		Password: flagRedisPassword,
		DB:       flagRedisDB,
	})

	b := broker.New(redistransport.New(client), redisstore.New(client), func(o *broker.Options) {
		if flagOverflowThreshold > 0 {
			o.OverflowThreshold = flagOverflowThreshold
		}
		if flagOverflowTTL > 0 {
			o.OverflowTTL = flagOverflowTTL
		}
		o.Logger = logger
	})
	return b, func() { _ = client.Close() }
}

func printResult(result *core.TaskResult, outputPath string) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	// OutputPath is a submitter-side convenience: the core passes the hint
	// through untouched and the CLI honors it here.
	if outputPath != "" && result.Status == core.TaskCompleted {
		if err := os.WriteFile(outputPath, result.Data, 0o644); err != nil {
			return fmt.Errorf("write result payload: %w", err)
		}
	}
	return nil
}
