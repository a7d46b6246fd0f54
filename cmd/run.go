package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the attendance pipeline",
	Long: `Load the face gallery, then process frames from the configured source until
it is exhausted or the process is interrupted. Every recognized, live person is
marked present once through the attendance API. The status server exposes the
session state, a live event stream and Prometheus metrics.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("frames-dir", "", "Replay frames from this directory (overrides frames.source)")
	runCmd.Flags().String("snapshot-url", "", "Poll frames from this snapshot URL (overrides frames.source)")
	runCmd.Flags().Float64("threshold", 0, "Match threshold (overrides match.threshold)")
	runCmd.Flags().Int("port", -1, "Status server port, 0 disables (overrides web.port)")
	runCmd.Flags().Bool("keep-serving", false, "Keep the status server up after the frame source is exhausted")
}

// applyRunFlags lets command line flags override the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if dir := mustGetString(cmd, "frames-dir"); dir != "" {
		cfg.Frames.Source = "dir"
		cfg.Frames.Dir = dir
	}
	if url := mustGetString(cmd, "snapshot-url"); url != "" {
		cfg.Frames.Source = "snapshot"
		cfg.Frames.SnapshotURL = url
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Match.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if port := mustGetInt(cmd, "port"); port >= 0 {
		cfg.Web.Port = port
	}
	return cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	entries, err := loadGalleryForRun(ctx, cfg, pool, log)
	if err != nil {
		return fmt.Errorf("loading gallery: %w", err)
	}
	summary := gallery.Summarize(entries)
	log.Infof("Gallery: %d identities, %d embeddings, dimension %d", len(summary.Identities), summary.Entries, summary.Dim)

	idx, err := buildIndex(cfg, entries, log)
	if err != nil {
		return err
	}

	checker, err := ppeChecker(ctx, cfg)
	if err != nil {
		return err
	}
	if _, ok := checker.Capability.Detector(); !ok {
		log.Warnf("PPE detection unavailable (%s), attendance is marked without PPE checks", checker.Capability.Reason())
	}

	src, err := frameSource(cfg)
	if err != nil {
		return err
	}

	m := metrics.NewManager()
	m.SetGalleryEntries(idx.Len())

	events := pipeline.NewBroadcaster()
	tracker := attendance.NewTracker(attendance.WithRetryBackoff(cfg.Sink.RetryInitialInterval, cfg.Sink.RetryMaxInterval))
	sink := attendance.NewHTTPSink(cfg.Sink.URL, cfg.Sink.Timeout)

	opts := []pipeline.Option{
		pipeline.WithPolicy(recognition.NewPolicy(cfg.Match.Threshold)),
		pipeline.WithPPE(checker),
		pipeline.WithTracker(tracker),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(log),
		pipeline.WithObserver(events.Publish),
	}
	if cfg.Liveness.Enabled {
		opts = append(opts, pipeline.WithLiveness(detector.NewLivenessClient(cfg.Liveness.URL, cfg.Liveness.Timeout)))
	} else {
		log.Warnf("Liveness check disabled, spoofed faces will not be rejected")
	}

	var audit database.AttendanceReader
	var db handlers.Pinger
	if pool != nil {
		repo := postgres.NewAttendanceRepository(pool)
		opts = append(opts, pipeline.WithAudit(repo))
		audit = repo
		db = pool
	}

	p, err := pipeline.New(idx, detector.NewFaceClient(cfg.Detector.URL, cfg.Detector.Timeout), sink, opts...)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	var server *web.Server
	serverErr := make(chan error, 1)
	if cfg.Web.Port > 0 {
		server = web.NewServer(cfg.Web, web.Deps{
			Status: handlers.StatusInfo{
				Version:      Version,
				Gallery:      summary,
				IndexBackend: cfg.Index.Backend,
				Threshold:    cfg.Match.Threshold,
				PPE:          checker.Capability,
				Liveness:     cfg.Liveness.Enabled,
				SinkURL:      sink.URL(),
			},
			Tracker:  tracker,
			Events:   events,
			Audit:    audit,
			Database: db,
			Metrics:  m,
			Log:      log,
		})
		go func() { serverErr <- server.Start() }()
	}

	log.Infof("Processing frames from %s source", cfg.Frames.Source)
	stats, runErr := p.Run(ctx, src)
	log.Infof("Processed %d frames, %d faces, %d marked (%d source errors)",
		stats.Frames, stats.Faces, stats.Delivered, stats.SourceErrors)
	printMarked(tracker)

	if server != nil {
		if runErr == nil && mustGetBool(cmd, "keep-serving") {
			log.Infof("Frame source exhausted, serving status until interrupted")
			select {
			case <-ctx.Done():
			case err := <-serverErr:
				return err
			}
		}
		if err := shutdownServer(server, log); err != nil {
			return err
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("running pipeline: %w", runErr)
	}
	return nil
}

func shutdownServer(server *web.Server, log logs.Log) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Error during shutdown: %v", err)
		return err
	}
	return nil
}

func printMarked(tracker *attendance.Tracker) {
	marked := tracker.Marked()
	if len(marked) == 0 {
		fmt.Println("No attendance marked in this session")
		return
	}
	fmt.Printf("Marked present (%d):\n", len(marked))
	for i, id := range marked {
		fmt.Printf("  %d. %s\n", i+1, id)
	}
}
