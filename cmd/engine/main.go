// engine — the memory execution engine's long-running process.
//
// Wires the point store, the configuration store, every memory block
// processor, and the shared dispatcher/aggregator/resolver together, then
// drives each processor through its own scheduler harness (spec.md §4.1)
// until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/blocks/alarm"
	"github.com/fieldware/memengine/internal/blocks/comparison"
	"github.com/fieldware/memengine/internal/blocks/conditional"
	"github.com/fieldware/memengine/internal/blocks/deadband"
	"github.com/fieldware/memengine/internal/blocks/minmax"
	"github.com/fieldware/memengine/internal/blocks/movingaverage"
	"github.com/fieldware/memengine/internal/blocks/pid"
	"github.com/fieldware/memengine/internal/blocks/rateofchange"
	"github.com/fieldware/memengine/internal/blocks/schedule"
	"github.com/fieldware/memengine/internal/blocks/statistical"
	"github.com/fieldware/memengine/internal/blocks/totalizer"
	"github.com/fieldware/memengine/internal/blocks/tuning"
	"github.com/fieldware/memengine/internal/blocks/writeaction"
	"github.com/fieldware/memengine/internal/config"
	"github.com/fieldware/memengine/internal/configdoc"
	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/logging"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/output"
	"github.com/fieldware/memengine/internal/pipeline"
	"github.com/fieldware/memengine/internal/scheduler"
	"github.com/fieldware/memengine/internal/store/kv"
	"github.com/fieldware/memengine/internal/store/memstore"
	"github.com/fieldware/memengine/internal/voting"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "engine",
		Short:   "Memory execution engine for monitored and controlled points",
		Long:    "engine runs the monitoring pipeline and every configured memory block (alarms, PID loops, totalizers, schedules, and the rest) on a shared tick, reading and writing through a persistent point store.",
		Version: version,
	}

	var (
		bootstrapPath string
		seedPath      string
		devLogs       bool
		quiet         bool
		verbose       bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(bootstrapPath, seedPath, devLogs, output.NewVerboseProgress(!quiet, verbose))
		},
	}
	runCmd.Flags().StringVarP(&bootstrapPath, "config", "c", "", "Bootstrap TOML file (point store path, tick base, refresh cadence)")
	runCmd.Flags().StringVarP(&seedPath, "seed", "s", "", "Seed TOML file defining points and block configurations")
	runCmd.Flags().BoolVar(&devLogs, "dev-logs", false, "Use development (console, debug-level) logging instead of production JSON logging")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress operator-facing startup/shutdown progress lines")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print per-processor debug progress lines")

	var pointStorePath string
	getCmd := &cobra.Command{
		Use:   "get <point-id>",
		Short: "Print a point's current raw and final values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPoint(pointStorePath, args[0])
		},
	}
	getCmd.Flags().StringVarP(&pointStorePath, "point-store-path", "p", config.Default().PointStorePath, "Badger point store directory")

	var (
		tuneConfigPath   string
		tunePIDID        string
		tuneRelayPct     float64
		tuneMinCycles    int
		tuneMaxCycles    int
		tuneTimeoutSecs  int64
	)
	tuneStartCmd := &cobra.Command{
		Use:   "tune-start",
		Short: "Create a new auto-tuning session for a PID block",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startTuningSession(tuneConfigPath, tunePIDID, tuneRelayPct, tuneMinCycles, tuneMaxCycles, tuneTimeoutSecs)
		},
	}
	tuneStartCmd.Flags().StringVarP(&tuneConfigPath, "seed", "s", "", "Seed TOML file the running engine was started with (tuning sessions are appended to the same in-process store on restart)")
	tuneStartCmd.Flags().StringVar(&tunePIDID, "pid-id", "", "ID of the PID block to tune")
	tuneStartCmd.Flags().Float64Var(&tuneRelayPct, "relay-amplitude-pct", 10, "Relay step amplitude, percent of the PID's output span")
	tuneStartCmd.Flags().IntVar(&tuneMinCycles, "min-cycles", 3, "Minimum relay oscillation cycles before gains are computed")
	tuneStartCmd.Flags().IntVar(&tuneMaxCycles, "max-cycles", 10, "Maximum relay oscillation cycles before the session fails")
	tuneStartCmd.Flags().Int64Var(&tuneTimeoutSecs, "timeout-seconds", 600, "Overall session timeout")
	tuneStartCmd.MarkFlagRequired("pid-id")

	var (
		tuneApplyConfigPath string
		tuneApplySessionID  string
		tuneApplyPointPath  string
	)
	tuneApplyCmd := &cobra.Command{
		Use:   "tune-apply",
		Short: "Apply a completed auto-tuning session's gains to its PID block",
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyTuningSession(tuneApplyConfigPath, tuneApplyPointPath, tuneApplySessionID)
		},
	}
	tuneApplyCmd.Flags().StringVarP(&tuneApplyConfigPath, "seed", "s", "", "Seed TOML file the running engine was started with")
	tuneApplyCmd.Flags().StringVar(&tuneApplySessionID, "session-id", "", "ID of the completed tuning session to apply")
	tuneApplyCmd.Flags().StringVarP(&tuneApplyPointPath, "point-store-path", "p", config.Default().PointStorePath, "Badger point store directory (PID checkpoint lives here)")
	tuneApplyCmd.MarkFlagRequired("session-id")

	rootCmd.AddCommand(runCmd, getCmd, tuneStartCmd, tuneApplyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEngine(bootstrapPath, seedPath string, devLogs bool, progress *output.Progress) error {
	progress.Log("loading bootstrap configuration")
	boot := config.Default()
	if bootstrapPath != "" {
		loaded, err := config.Load(bootstrapPath)
		if err != nil {
			return err
		}
		boot = loaded
	}
	if devLogs {
		boot.DevelopmentLogs = true
	}

	log, err := logging.New(logging.Config{Development: boot.DevelopmentLogs})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	progress.Log("opening point store at %s", boot.PointStorePath)
	points, err := kv.Open(boot.PointStorePath)
	if err != nil {
		return fmt.Errorf("open point store: %w", err)
	}
	defer points.Close()

	configs := memstore.New()
	historian := memstore.NewHistorian()

	if seedPath != "" {
		doc, err := configdoc.Load(seedPath)
		if err != nil {
			return err
		}
		configdoc.Apply(doc, configs)
		log.Info("loaded seed configuration", zap.String("path", seedPath), zap.Int("points", len(doc.Points)))
	}

	nowTime := func() time.Time { return time.Now().UTC() }
	nowUnix := func() int64 { return nowTime().Unix() }

	disp := dispatch.New(points, nowUnix)
	aggregator := voting.New()

	tuningProc := tuning.New(points, configs, disp, log, nowUnix)
	pidProc := pid.New(points, configs, disp, log, nowTime, tuningProc.IsActive)

	procs := []scheduler.Processor{
		pipeline.New(points, configs, historian, log, nowTime),
		alarm.New(points, configs, disp, aggregator, log, nowTime),
		pidProc,
		tuningProc,
		totalizer.New(points, configs, disp, log, nowUnix),
		rateofchange.New(points, configs, disp, log, nowUnix),
		movingaverage.New(points, configs, disp, log, nowUnix),
		deadband.New(points, configs, disp, log, nowUnix),
		schedule.New(points, configs, disp, log, nowUnix),
		comparison.New(points, configs, disp, log, nowUnix),
		minmax.New(points, configs, disp, log, nowUnix),
		conditional.New(points, configs, disp, log, nowUnix),
		statistical.New(points, configs, disp, log, nowUnix),
		writeaction.New(points, configs, disp, log, nowUnix),
	}

	tickBase := time.Duration(boot.TickBaseSeconds) * time.Second
	configRefresh := time.Duration(boot.ConfigRefreshSec) * time.Second

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	harnesses := make([]*scheduler.Harness, len(procs))
	for i, proc := range procs {
		h := scheduler.New(proc, configs, log, tickBase, configRefresh)
		harnesses[i] = h
		h.Start(ctx)
		progress.Debug("started processor %s", proc.Kind())
		log.Info("started processor", zap.String("kind", proc.Kind()))
	}
	progress.Log("engine running (%d processors, %s tick base)", len(procs), tickBase)

	<-ctx.Done()
	progress.Log("shutting down")
	log.Info("shutting down")
	for _, h := range harnesses {
		h.Stop()
	}
	return nil
}

// startTuningSession appends a new TuningSession record to the seed file so
// it is picked up the next time the engine is started against that seed
// (memstore.ConfigStore holds no state across process restarts — see
// internal/configdoc's package comment). On that start the tuning processor
// loads the session in RefreshConfig and drives the relay test, and the PID
// processor skips that block while the session is live.
func startTuningSession(seedPath, pidID string, relayPct float64, minCycles, maxCycles int, timeoutSeconds int64) error {
	if seedPath == "" {
		return fmt.Errorf("--seed is required: tuning sessions are recorded into the seed document")
	}
	doc, err := configdoc.Load(seedPath)
	if err != nil {
		return err
	}

	session := model.TuningSession{
		ID:                uuid.NewString(),
		PIDID:             pidID,
		StartUnix:         time.Now().UTC().Unix(),
		Status:            model.TuningInitializing,
		RelayAmplitudePct: relayPct,
		MinCycles:         minCycles,
		MaxCycles:         maxCycles,
		TimeoutSeconds:    timeoutSeconds,
	}
	doc.TuningSessions = append(doc.TuningSessions, session)

	f, err := os.Create(seedPath)
	if err != nil {
		return fmt.Errorf("rewrite seed file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode seed file: %w", err)
	}

	fmt.Printf("tuning session %s created for pid %s\n", session.ID, pidID)
	return nil
}

// applyTuningSession implements spec.md §4.7's completion step: it finds the
// named session in the seed document, copies its calculated gains into the
// target PID's config, deletes the PID's runtime checkpoint in the point
// store, and rewrites the seed document so the next `run` picks up the new
// gains.
func applyTuningSession(seedPath, pointStorePath, sessionID string) error {
	if seedPath == "" {
		return fmt.Errorf("--seed is required: tuning sessions and PID configs live in the seed document")
	}
	doc, err := configdoc.Load(seedPath)
	if err != nil {
		return err
	}

	idx := -1
	for i, s := range doc.TuningSessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("no tuning session %s in %s", sessionID, seedPath)
	}
	session := doc.TuningSessions[idx]
	if session.Status != model.TuningCompleted {
		return fmt.Errorf("session %s is %s, not Completed", sessionID, session.Status)
	}
	if session.CalculatedGains == nil {
		return fmt.Errorf("session %s has no calculated gains", sessionID)
	}

	pidIdx := -1
	for i, c := range doc.PIDs {
		if c.ID == session.PIDID {
			pidIdx = i
			break
		}
	}
	if pidIdx < 0 {
		return fmt.Errorf("no PID config %s", session.PIDID)
	}
	gains := session.CalculatedGains
	doc.PIDs[pidIdx].Kp = gains.Kp
	doc.PIDs[pidIdx].Ki = gains.Ki
	doc.PIDs[pidIdx].Kd = gains.Kd

	points, err := kv.Open(pointStorePath)
	if err != nil {
		return fmt.Errorf("open point store: %w", err)
	}
	defer points.Close()
	if err := points.DeleteState(context.Background(), "PIDState:"+session.PIDID); err != nil {
		return fmt.Errorf("delete pid checkpoint: %w", err)
	}

	f, err := os.Create(seedPath)
	if err != nil {
		return fmt.Errorf("rewrite seed file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode seed file: %w", err)
	}

	fmt.Printf("applied gains from session %s to pid %s: Kp=%.4f Ki=%.4f Kd=%.4f\n",
		sessionID, session.PIDID, gains.Kp, gains.Ki, gains.Kd)
	return nil
}

func printPoint(pointStorePath, pointID string) error {
	points, err := kv.Open(pointStorePath)
	if err != nil {
		return fmt.Errorf("open point store: %w", err)
	}
	defer points.Close()

	ctx := context.Background()
	rv, rawErr := points.GetRaw(ctx, pointID)
	fv, finalErr := points.GetFinal(ctx, pointID)

	if rawErr != nil && finalErr != nil {
		return fmt.Errorf("point %s: no raw or final value on record", pointID)
	}
	if rawErr == nil {
		fmt.Printf("raw:   %s @ %s\n", rv.StringValue, time.Unix(rv.UnixSeconds, 0).UTC().Format(time.RFC3339))
	}
	if finalErr == nil {
		fmt.Printf("final: %s @ %s\n", fv.StringValue, time.Unix(fv.UnixSeconds, 0).UTC().Format(time.RFC3339))
	}
	return nil
}
