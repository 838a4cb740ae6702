package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/termlog/admin"
	"github.com/maxpert/termlog/cfg"
	"github.com/maxpert/termlog/notify"
	"github.com/maxpert/termlog/publication"
	"github.com/maxpert/termlog/rate"
	"github.com/maxpert/termlog/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("client_id", cfg.Config.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Interrupted, shutting down")
		cancel()
	}()

	hub := notify.NewHub()
	defer hub.Close()

	conductor, err := publication.NewClientConductor(publication.ConductorConfig{
		LogDir:          cfg.PublicationsDir(),
		CountersPath:    cfg.CountersPath(),
		RegistryPath:    cfg.RegistryPath(),
		ClientID:        cfg.Config.ClientID,
		TermLength:      cfg.Config.Publication.TermLength,
		PageSize:        cfg.Config.Publication.PageSize,
		MTULength:       cfg.Config.Publication.MTULength,
		PreTouch:        cfg.Config.Publication.PreTouch,
		CounterCapacity: cfg.Config.Publication.CounterCapacity,
		Linger:          time.Duration(cfg.Config.Publication.LingerMS) * time.Millisecond,
		Hub:             hub,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize conductor")
		return
	}
	defer conductor.Close()

	collector := telemetry.NewMetricsCollector(conductor, time.Duration(cfg.Config.Publication.StatsIntervalSec)*time.Second)
	collector.Start()
	defer collector.Stop()

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		stop := serve("prometheus", fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port), mux)
		defer stop()
	}

	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewAdminHandlers(conductor, telemetry.GetMetricsHandler()))
		stop := serve("admin", fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port), mux)
		defer stop()
	}

	events, unsubscribe := hub.Subscribe(notify.Filter{StreamIDs: []int32{cfg.Config.Sample.StreamID}})
	defer unsubscribe()
	go logEvents(events)

	pub, err := conductor.AddPublication(cfg.Config.Sample.Channel, cfg.Config.Sample.StreamID).Get()
	if err != nil {
		log.Fatal().Err(err).Str("channel", cfg.Config.Sample.Channel).Msg("Failed to add publication")
		return
	}

	if cfg.Config.Sample.AutoConnect {
		driver, err := conductor.Driver(pub)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open driver view")
			return
		}
		driver.SetConnected(true)
		driver.SetPositionLimit(pub.MaxPossiblePosition())
	}

	reporter := rate.NewReporter(time.Duration(cfg.Config.Rate.IntervalMS)*time.Millisecond, logRate)
	done := reporter.Start()

	log.Info().
		Str("channel", pub.Channel()).
		Int32("stream_id", pub.StreamID()).
		Int32("session_id", pub.SessionID()).
		Int("message_length", cfg.Config.Sample.MessageLength).
		Int64("messages", cfg.Config.Sample.Messages).
		Msg("Streaming messages")

	stats, err := streamMessages(ctx, pub, reporter, cfg.Config.Sample.MessageLength, cfg.Config.Sample.Messages)
	reporter.Halt()
	<-done

	logEvent := log.Info()
	if err != nil {
		logEvent = log.Error().Err(err)
	}
	logEvent.
		Int64("sent", stats.Sent).
		Int64("admin_actions", stats.AdminActions).
		Int64("back_pressured", stats.BackPressured).
		Int64("not_connected", stats.NotConnected).
		Msg("Publisher finished")

	if err := pub.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publication")
	}
}

// serve runs an HTTP server in the background and returns its shutdown func
func serve(name, addr string, handler http.Handler) func() {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		log.Info().Str("addr", addr).Msgf("Starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msgf("%s server failed", name)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func logRate(messagesPerSec, bytesPerSec float64, totalMessages, totalBytes int64) {
	log.Info().
		Str("msgs_per_sec", fmt.Sprintf("%.3g", messagesPerSec)).
		Str("bytes_per_sec", fmt.Sprintf("%.3g", bytesPerSec)).
		Int64("total_messages", totalMessages).
		Int64("total_bytes", totalBytes).
		Msg("Throughput")
}

func logEvents(events <-chan notify.Event) {
	for ev := range events {
		log.Info().
			Stringer("kind", ev.Kind).
			Int64("registration_id", ev.RegistrationID).
			Str("channel", ev.Channel).
			Int32("session_id", ev.SessionID).
			Msg("Publication event")
	}
}
