// Command mantis runs the broadcast scheduler: an HTTP-administered task
// graph plus two background loops (cleaner, synchronizer) that keep it
// aligned with the external programming calendar. Wiring style follows the
// teacher's harpoon-scheduler/main.go — construct every component, start
// the background loops, serve HTTP, block on an interrupt signal — with
// Cobra standing in for the teacher's bare flag package.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/radio-aktywne/mantis/internal/cleaner"
	"github.com/radio-aktywne/mantis/internal/config"
	"github.com/radio-aktywne/mantis/internal/httpapi"
	"github.com/radio-aktywne/mantis/internal/logging"
	"github.com/radio-aktywne/mantis/internal/metrics"
	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/scheduling/cleaning"
	"github.com/radio-aktywne/mantis/internal/scheduling/conditions"
	"github.com/radio-aktywne/mantis/internal/scheduling/operations"
	"github.com/radio-aktywne/mantis/internal/scheduling/operations/stream"
	"github.com/radio-aktywne/mantis/internal/services/calendar"
	"github.com/radio-aktywne/mantis/internal/services/prerecordings"
	"github.com/radio-aktywne/mantis/internal/services/records"
	"github.com/radio-aktywne/mantis/internal/services/reserve"
	"github.com/radio-aktywne/mantis/internal/store"
	"github.com/radio-aktywne/mantis/internal/synchronizer"
)

var (
	logLevel  string
	logPretty bool
	rootCmd   = &cobra.Command{
		Use:   "mantis",
		Short: "Deferred broadcast scheduler for a radio automation stack",
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, its HTTP surface, and its background loops",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "use a human-readable console log writer instead of JSON")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	log := logging.New(logging.Options{Level: logLevel, Pretty: logPretty})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	metrics.MustRegister()

	st := store.New(cfg.Store.Path, log)
	state, err := st.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load state")
		return err
	}

	conditionFactory := scheduling.NewConditionFactory()
	conditions.Register(conditionFactory)

	operationFactory := scheduling.NewOperationFactory()
	operations.Register(operationFactory)

	cleaningFactory := scheduling.NewCleaningStrategyFactory()
	cleaning.Register(cleaningFactory)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	calendarClient, err := calendar.New(cfg.Calendar.URL(), httpClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct calendar client")
		return err
	}
	recordsClient, err := records.New(cfg.Records.URL(), httpClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct records client")
		return err
	}
	prerecordingsClient, err := prerecordings.New(cfg.Prerecordings.URL(), httpClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct prerecordings client")
		return err
	}
	reserveClient, err := reserve.New(cfg.Reserve.URL(), httpClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct reserve client")
		return err
	}

	stream.Register(operationFactory, calendarClient, prerecordingsClient, recordsClient, reserveClient, stream.Config{
		Timeout:       cfg.Stream.Timeout,
		ReplayWindow:  cfg.Stream.Window,
		EmistreamHost: cfg.EmistreamSRT.Host,
		FFmpegPath:    cfg.FFmpegPath,
	}, log.With().Str("component", "stream").Logger())

	sched := scheduling.New(st, state, conditionFactory, operationFactory, cleaningFactory, log)

	cln := cleaner.New(sched, cleaner.Config{Reference: cfg.Cleaner.Reference, Interval: cfg.Cleaner.Interval}, log)
	sync := synchronizer.New(sched, calendarClient, synchronizer.Config{
		Reference: cfg.Synchronizer.Reference,
		Interval:  cfg.Synchronizer.Interval,
		Window:    cfg.Synchronizer.StreamWindow,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cln.Run(ctx)
	go sync.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(sched, log))
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.Host + ":" + portString(cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func portString(port int) string {
	if port == 0 {
		return "10200"
	}
	return strconv.Itoa(port)
}
