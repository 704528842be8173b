package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"faceattend/internal/bootstrap"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "attendctl",
		Short: "Administer the face attendance service",
		Long: `attendctl works directly against the configured store (STORE_BACKEND,
DATA_DIR or DATABASE_URL) to list students, export attendance reports and
test face identification without going through the HTTP API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env file is optional, don't fail if not found
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at info level")

	root.AddCommand(
		newStudentsCmd(opts),
		newRecordsCmd(opts),
		newEnrollCmd(opts),
		newExportCmd(opts),
		newIdentifyCmd(opts),
		newHashPasswordCmd(),
	)
	return root
}

// openStack loads config from the environment and opens the store.
func (o *rootOptions) openStack(ctx context.Context, detector bool) (*bootstrap.Stack, error) {
	cfg := config.FromEnv()
	level := "warn"
	if o.verbose {
		level = "info"
	}
	log, err := logger.New(level, "console")
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		log.Info("config", zap.String("warning", w))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Jobs published from the CLI would be lost with the in-memory queue.
	if cfg.QueueBackend == "memory" {
		cfg.CloudinaryCloudName = ""
	}
	return bootstrap.Open(ctx, cfg, log, bootstrap.Options{Detector: detector})
}
