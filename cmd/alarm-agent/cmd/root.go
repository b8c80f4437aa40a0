package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rdvincent/tutanota/internal/alarmclock"
	"github.com/rdvincent/tutanota/internal/config"
	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
	"github.com/rdvincent/tutanota/internal/keystore"
	"github.com/rdvincent/tutanota/internal/logger"
	"github.com/rdvincent/tutanota/internal/repository/alarms"
	"github.com/rdvincent/tutanota/internal/repository/keyring"
	"github.com/rdvincent/tutanota/internal/service/manager"
	"github.com/rdvincent/tutanota/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command of the alarm agent.
	rootCmd = &cobra.Command{
		Use:   "alarm-agent",
		Short: "Reconcile server alarm notifications against local device alarms.",
		Long: `The alarm agent keeps the device's one-shot alarms in sync with the
server's alarm notifications. Recurring alarms are persisted locally so they
can be re-armed after a restart; session keys are resolved through the
device key before any payload is decrypted.`,
	}

	// rearmCmd re-registers all persisted recurring alarms.
	rearmCmd = &cobra.Command{
		Use:   "rearm",
		Short: "Re-register all persisted recurring alarms with the host scheduler.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			m, err := buildManager(configPath)
			if err != nil {
				return err
			}

			return m.ReArm(ctx)
		},
	}

	// applyCmd reconciles a batch of notifications read from a JSON file.
	applyCmd = &cobra.Command{
		Use:   "apply <batch.json>",
		Short: "Apply a batch of create/delete alarm notifications from a JSON file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			contents, err := os.ReadFile(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}

			var batch []domain.AlarmNotification
			if err := json.Unmarshal(contents, &batch); err != nil {
				return fmt.Errorf("decode batch: %w", err)
			}

			m, err := buildManager(configPath)
			if err != nil {
				return err
			}

			return m.Apply(ctx, batch)
		},
	}

	// runCmd keeps the agent alive, re-arming on a cron schedule.
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the agent: re-arm at start and on the configured schedule.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			m, err := newManager(cfg)
			if err != nil {
				return err
			}

			if err := m.ReArm(ctx); err != nil {
				logger.Warnf(ctx, "Initial re-arm failed: %v", err)
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(cfg.ReArmSchedule, func() {
				if err := m.ReArm(ctx); err != nil {
					logger.Warnf(ctx, "Scheduled re-arm failed: %v", err)
				}
			}); err != nil {
				return fmt.Errorf("parse re-arm schedule: %w", err)
			}

			scheduler.Start()
			defer scheduler.Stop()

			logger.InfoKV(ctx, "Alarm agent running", "rearm_schedule", cfg.ReArmSchedule)
			<-ctx.Done()

			return nil
		},
	}

	// keygenCmd creates a fresh device key for a new install.
	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate the device key file used to unwrap push channel keys.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err := keystore.Generate(cfg.DeviceKeyFile); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "device key written to %s\n", cfg.DeviceKeyFile)

			return nil
		},
	}
)

// buildManager loads the configuration and wires the reconciliation manager.
func buildManager(path string) (*manager.Manager, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return newManager(cfg)
}

// newManager wires the manager's collaborators from the configuration.
func newManager(cfg *config.Config) (*manager.Manager, error) {
	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	facade, err := keystore.NewFileFacade(cfg.DeviceKeyFile)
	if err != nil {
		return nil, fmt.Errorf("open device key: %w", err)
	}

	clock := alarmclock.NewTimerScheduler(func(id alarmclock.Identity, payload alarmclock.Payload) {
		logger.InfoKV(context.Background(), "Alarm fired",
			"identifier", id.Identifier,
			"occurrence", id.Occurrence,
			"summary", payload.Summary,
			"event_start", payload.EventStart,
			"user", payload.User)
	})

	return manager.NewManager(
		alarms.NewFileRepository(cfg.AlarmsFile),
		keyring.NewFileSource(cfg.KeyringFile),
		facade,
		clock,
	), nil
}

// Execute runs the alarm-agent CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	rootCmd.AddCommand(rearmCmd, applyCmd, runCmd, keygenCmd)
}
