package cli

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"staffplanner/internal/app"
	"staffplanner/internal/config"
	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
	"staffplanner/pkg/logger"
)

// Builder wires an App from the loaded config. Tests replace it with an in-memory app.
type Builder func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app.App, error)

type rootOptions struct {
	env       string
	configDir string
	build     Builder
}

// NewRootCommand returns the plannerctl command tree.
func NewRootCommand(version string, build Builder) *cobra.Command {
	if build == nil {
		build = app.Build
	}
	opts := &rootOptions{build: build}

	root := &cobra.Command{
		Use:     "plannerctl",
		Version: version,
		Short:   "Inspect and resolve staffing conflicts",
		Long: `plannerctl runs conflict checks, capacity validation and resolutions
against the planner's storage. Every command prints JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&opts.env, "env", "", "config environment (defaults to CONFIG_ENV)")
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "directory holding base.yaml and <env>.yaml")

	root.AddCommand(
		newCheckCmd(opts),
		newValidateCmd(opts),
		newResolveCmd(opts),
		newAutoResolveCmd(opts),
		newUtilizationCmd(opts),
		newCapacityCmd(opts),
		newHistoryCmd(opts),
		newOutboxCmd(opts),
	)
	return root
}

// Execute runs plannerctl against the configured storage.
func Execute(version string) error {
	return NewRootCommand(version, nil).Execute()
}

// withApp loads config, wires the app and closes it once fn returns.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(o.env, o.configDir)
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(name, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, &engine.ValidationError{Field: name, Message: "is required"}
	}
	d, err := interval.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &engine.ValidationError{Field: name, Message: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}

// optionalDateFlag returns nil when the flag was not set.
func optionalDateFlag(cmd *cobra.Command, name, value string) (*time.Time, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	d, err := parseDateFlag(name, value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
