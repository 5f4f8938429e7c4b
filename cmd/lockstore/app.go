package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/lockstore"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("LOCKSTORE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "lockstore")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lockstore",
		Short:         "lockstore manages locked key-value items over memory, disk, or S3 backends",
		SilenceErrors: true,
		Example: `
  # Create an item on disk, save a payload while holding the lock, release it
  lockstore --store disk:///var/lib/lockstore-data create
  lockstore --store disk:///var/lib/lockstore-data save <id> --token <token> --data '{"hello":"world"}'
  lockstore --store disk:///var/lib/lockstore-data unlock <id> --token <token>

  # MinIO backend (TLS on by default; append ?insecure=1 for HTTP)
  LOCKSTORE_STORE='s3://localhost:9000/lockstore-data?insecure=1' \
  LOCKSTORE_S3_ACCESS_KEY_ID=minioadmin LOCKSTORE_S3_SECRET_ACCESS_KEY=minioadmin \
  lockstore ids

  # Sequential identifiers in memory (dev only)
  lockstore --store mem:// --ids sequential exercise --count 5
`,
	}

	flags := cmd.PersistentFlags()
	flags.String("store", "", "storage backend URL (mem://, disk:///path, s3://host[:port]/bucket, aws://bucket)")
	flags.String("type", "documents", "item type name (namespace inside the backend)")
	flags.String("ids", "random", "identifier scheme (random, sequential, simple)")
	flags.Bool("allow-wipe", false, "permit the destructive wipe command")
	flags.String("log-level", "info", "minimum log level (trace, debug, info, warn, error)")
	for _, name := range []string{"store", "type", "ids", "allow-wipe", "log-level"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("LOCKSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cmd.AddCommand(
		newCreateCommand(baseLogger),
		newLockCommand(baseLogger),
		newUnlockCommand(baseLogger),
		newForceUnlockCommand(baseLogger),
		newVerifyCommand(baseLogger),
		newSaveCommand(baseLogger),
		newLoadCommand(baseLogger),
		newExistsCommand(baseLogger),
		newIDsCommand(baseLogger),
		newShowLockCommand(baseLogger),
		newHighestCommand(baseLogger),
		newWipeCommand(baseLogger),
		newExerciseCommand(baseLogger),
	)
	return cmd
}

func bindConfig() lockstore.Config {
	cfg := lockstore.ConfigFromEnv()
	if v := strings.TrimSpace(viper.GetString("store")); v != "" {
		cfg.Store = v
	}
	if viper.GetBool("allow-wipe") {
		cfg.AllowWipe = true
	}
	return cfg
}

// commandContext attaches a leveled logger to the cobra context so backend
// operations emit their trace and debug events.
func commandContext(cmd *cobra.Command, baseLogger pslog.Logger) context.Context {
	logger := baseLogger
	if level, ok := pslog.ParseLevel(strings.TrimSpace(viper.GetString("log-level"))); ok {
		logger = logger.LogLevel(level)
	}
	return pslog.ContextWithLogger(cmd.Context(), logger)
}
