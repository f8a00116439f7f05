package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/api/rest"
	"github.com/iggydv12/hubsim/internal/config"
	"github.com/iggydv12/hubsim/internal/sim"
	"github.com/iggydv12/hubsim/internal/timeline"
)

var (
	cfgFile     string
	presetName  string
	withRecords bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hubsim",
		Short:        "hubsim: single-hub overlay election and relay simulator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/hubsim.yaml)")
	rootCmd.PersistentFlags().StringVarP(&presetName, "preset", "p", "", "Start from a named scenario: "+fmt.Sprint(config.PresetNames()))
	addCommonFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and print the report as JSON",
		RunE:  runScenario,
	}
	runCmd.Flags().BoolVar(&withRecords, "records", false, "Include the per-tick records in the output")
	addScenarioFlags(runCmd.Flags())

	survivorsCmd := &cobra.Command{
		Use:   "survivors",
		Short: "Reset the world to two survivors and check they recover",
		RunE:  runSurvivors,
	}
	addScenarioFlags(survivorsCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scenario runs over REST",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	addScenarioFlags(serveCmd.Flags())

	timelineCmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the per-tick records kept in an archive directory",
		RunE:  runTimeline,
	}

	rootCmd.AddCommand(runCmd, survivorsCmd, serveCmd, timelineCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Bool("dev", false, "Human-readable development logging")
	fs.String("archive", "", "Timeline archive directory (default: in memory)")
}

func addScenarioFlags(fs *pflag.FlagSet) {
	d := config.DefaultScenario()
	fs.Int("nodes", d.NodeCount, "Number of peers")
	fs.Int("ticks", d.TickCount, "Number of ticks to run")
	fs.Int64("max-delay", d.MaxDelay, "Maximum transport delay in ticks")
	fs.Float64("loss-rate", d.LossRate, "Probability a packet is lost")
	fs.Float64("churn", d.ChurnProbability, "Per-tick probability the hub crashes")
	fs.Int64("retry-interval", d.RetryInterval, "Ticks between hub acquisition attempts")
	fs.Int64("retry-jitter", d.RetryJitter, "Maximum jitter added to the retry interval")
	fs.Float64("send", d.SendProbability, "Per-tick probability a peer broadcasts")
	fs.Int64("seed", d.Seed, "Random seed")
	fs.Float64("handshake-fail", d.HandshakeFailureRate, "Probability a connect handshake fails")
	fs.Int("pending-limit", d.PendingLimit, "Per-peer pending queue bound")
	fs.Float64("loss-threshold", d.LossThreshold, "Highest loss rate that still passes")
	fs.String("hub-name", d.HubName, "Reserved hub identity")
	fs.Bool("remove-crashed", d.RemoveCrashedHub, "Remove a crashed hub instead of resetting it")
	fs.Bool("drop-in-flight", d.DropInFlightOnChurn, "Drop packets in flight when the hub crashes")
	fs.Bool("parallel", d.Parallel, "Tick peers concurrently (not reproducible)")
}

// setup loads configuration for cmd and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	base := config.DefaultScenario()
	if presetName != "" {
		p, err := config.Preset(presetName)
		if err != nil {
			return nil, nil, err
		}
		base = p
	}

	cfg, err := config.Load(cfgFile, cmd.Flags(), base)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func openArchive(cfg *config.Config, logger *zap.Logger) (*timeline.Store, error) {
	store, err := timeline.Open(cfg.Archive.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := store.Truncate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("truncate archive: %w", err)
	}
	return store, nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d, err := sim.New(cfg.Scenario, logger, sim.WithArchive(store))
	if err != nil {
		return err
	}
	res, runErr := d.Run(ctx)
	if !withRecords {
		res = &sim.Result{Report: res.Report}
	}
	if err := printJSON(res); err != nil {
		return err
	}

	switch {
	case errors.Is(runErr, sim.ErrInvariantViolation):
		return runErr
	case runErr != nil:
		return fmt.Errorf("run interrupted: %w", runErr)
	case !res.Report.Pass:
		return fmt.Errorf("run failed: loss rate %.3f above threshold %.3f", res.Report.LossRate, res.Report.LossThreshold)
	}
	return nil
}

func runSurvivors(cmd *cobra.Command, args []string) error {
	if presetName == "" {
		presetName = "survivors"
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := sim.RunSurvivors(context.Background(), cfg.Scenario, logger, sim.WithArchive(store))
	if res != nil {
		res.Run.Records = nil
		if perr := printJSON(res); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !res.Delivered {
		return errors.New("survivors recovered but the message did not arrive")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting hubsim server", zap.String("addr", cfg.Server.Addr))
	return rest.New(cfg.Scenario, logger).Start(cfg.Server.Addr)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Archive.Path == "" {
		return errors.New("timeline needs --archive")
	}
	store, err := timeline.Open(cfg.Archive.Path, logger)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer store.Close()

	recs, err := store.Records()
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Println(r)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
