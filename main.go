package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kittypaw-telemetry/adapters"
	"kittypaw-telemetry/application"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagBrokerURL,
	FlagClientID,
	FlagUsername,
	FlagPassword,
	FlagTopics,
	FlagResume,
	FlagDatabaseURL,
	FlagListenAddr,
	FlagLivenessTimeout,
	FlagSweepInterval,
	FlagReconnectDelay,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "kittypaw-telemetry",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "kittypaw-telemetry").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			pool, err := pgxpool.New(appCtx, ctx.String(FlagDatabaseURL.Name))
			if err != nil {
				return err
			}
			defer pool.Close()

			storage := adapters.NewPostgresStorage(pool, logger.With().Str("module", "storage").Logger())
			if err := storage.EnsureSchema(appCtx); err != nil {
				return err
			}

			mqttClient := adapters.NewMQTTClient(adapters.MQTTClientParams{
				Log: logger.With().Str("module", "mqtt-client").Logger(),
			})

			hub := adapters.NewWSHub(adapters.WSHubParams{
				Storage: storage,
				Log:     logger.With().Str("module", "ws-hub").Logger(),
			})
			defer hub.Close()

			service, err := application.NewTelemetryService(application.TelemetryServiceParams{
				Broker:          mqttClient,
				Storage:         storage,
				Broadcaster:     hub,
				Topics:          ctx.StringSlice(FlagTopics.Name),
				LivenessTimeout: ctx.Duration(FlagLivenessTimeout.Name),
				SweepInterval:   ctx.Duration(FlagSweepInterval.Name),
				ReconnectDelay:  ctx.Duration(FlagReconnectDelay.Name),
				Log:             logger.With().Str("module", "telemetry-service").Logger(),
			})
			if err != nil {
				return err
			}
			hub.SetControl(service)

			clientID := ctx.String(FlagClientID.Name)
			if clientID == "" {
				clientID = "kittypaw-" + uuid.New().String()[:8]
			}

			brokerURL := ctx.String(FlagBrokerURL.Name)
			if ctx.Bool(FlagResume.Name) {
				err = service.ResumeOrConnect(appCtx, brokerURL, clientID)
			} else {
				err = service.Connect(appCtx, brokerURL, clientID,
					ctx.String(FlagUsername.Name), ctx.String(FlagPassword.Name))
			}
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/ws", hub)

			server := &http.Server{
				Addr:    ctx.String(FlagListenAddr.Name),
				Handler: mux,
			}

			g := errgroup.Group{}

			g.Go(func() error {
				return service.Run(appCtx)
			})

			g.Go(func() error {
				logger.Info().Str("addr", server.Addr).Msg("viewer endpoint listening")
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-appCtx.Done()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return server.Shutdown(shutdownCtx)
			})

			logger.Info().Msg("service started")
			err = g.Wait()
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
