package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"notification-relay/internal/api"
	"notification-relay/internal/capture"
	"notification-relay/internal/classifier"
	"notification-relay/internal/config"
	"notification-relay/internal/db"
	"notification-relay/internal/kafka"
	"notification-relay/internal/logging"
	"notification-relay/internal/metrics"
	"notification-relay/internal/providers"
	"notification-relay/internal/relay"
	"notification-relay/internal/transport"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFileFlag() cli.Flag {
	return &cli.StringFlag{Name: "env-file", Aliases: []string{"e"}, Value: ".env", Usage: "Dotenv file loaded before the environment"}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "notification-relay",
		Usage:   "Relay desktop notifications to a remote WebSocket endpoint",
		Version: Version,
		Flags:   []cli.Flag{envFileFlag()},
		Action:  run,
		Commands: []*cli.Command{
			{
				Name:  "check-config",
				Usage: "Load and validate configuration, then print the effective settings",
				Flags: []cli.Flag{envFileFlag()},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("env-file"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					printConfig(c.App.Writer, cfg)
					return nil
				},
			},
		},
	}
}

func printConfig(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "server:     %s (%s/%s)\n", cfg.Relay.ServerURL, cfg.Relay.ClientType, cfg.Relay.ClientVersion)
	fmt.Fprintf(w, "loop:       poll=%s batch=%d queue=%d dedup=%d\n", cfg.Loop.PollInterval, cfg.Loop.BatchSize, cfg.Loop.QueueSize, cfg.Loop.DedupWindow)
	fmt.Fprintf(w, "reconnect:  delay=%s max=%d multiplier=%g cap=%s\n", cfg.Reconnect.Delay, cfg.Reconnect.MaxAttempts, cfg.Reconnect.Multiplier, cfg.Reconnect.MaxDelay)
	fmt.Fprintf(w, "filters:    priority=%q priority_only=%t mention_only=%t patterns=%s\n", cfg.Filter.PriorityKeyword, cfg.Filter.PriorityOnly, cfg.Filter.MentionOnly, strings.Join(cfg.Filter.MentionPatterns, ","))
	fmt.Fprintf(w, "api:        %s%s\n", cfg.API.Port, cfg.API.BasePath)
	fmt.Fprintf(w, "journal:    %t  kafka: %t  telegram: %t\n", cfg.DB.DSN != "", cfg.Kafka.Broker != "", cfg.Telegram.BotToken != "")
}

func run(c *cli.Context) error {
	// Load config
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger, err := logging.New(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to init logger: %v", err), 1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	session := transport.New(transport.Config{
		URL:               cfg.Relay.ServerURL,
		ClientType:        cfg.Relay.ClientType,
		Version:           cfg.Relay.ClientVersion,
		ReconnectDelay:    cfg.Reconnect.Delay,
		MaxRetries:        cfg.Reconnect.MaxAttempts,
		Multiplier:        cfg.Reconnect.Multiplier,
		MaxDelay:          cfg.Reconnect.MaxDelay,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		WriteTimeout:      cfg.Transport.WriteTimeout,
	}, logger, transport.WithMetrics(m))

	buffer := capture.NewBuffer(0)

	presenter := providers.Fanout{providers.NewConsole(os.Stdout)}
	if cfg.Telegram.BotToken != "" {
		tg, err := providers.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.RateLimit, logger)
		if err != nil {
			logger.Warnf("Telegram presenter disabled: %v", err)
		} else {
			presenter = append(presenter, tg)
		}
	}

	opts := []relay.Option{relay.WithMetrics(m)}
	var store api.DeliveryStore
	if cfg.DB.DSN != "" {
		database, err := db.New(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Errorf("Failed to connect to database: %v", err)
			return cli.Exit(fmt.Sprintf("Database connection failed: %v", err), 1)
		}
		defer database.Close()
		opts = append(opts, relay.WithJournal(database))
		store = database
	}

	orch := relay.New(relay.Config{
		PollInterval: cfg.Loop.PollInterval,
		BatchSize:    cfg.Loop.BatchSize,
		QueueSize:    cfg.Loop.QueueSize,
		DedupWindow:  cfg.Loop.DedupWindow,
		ClientType:   cfg.Relay.ClientType,
		Platform:     cfg.Filter.Platform,
		Source:       cfg.Relay.Source,
	}, logger, buffer, classifier.New(cfg.ClassifierOptions()), session, presenter, opts...)
	if cfg.Relay.Announce {
		orch.Announce(time.Now())
	}

	// The session outlives the relay loop so the last batch can still be sent.
	sessionCtx, closeSession := context.WithCancel(context.Background())
	defer closeSession()

	var wg sync.WaitGroup
	var fatal error
	var fatalOnce sync.Once
	fail := func(err error) {
		fatalOnce.Do(func() { fatal = err })
		stop()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(sessionCtx); err != nil {
			logger.Errorf("Transport stopped: %v", err)
			fail(err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer closeSession()
		_ = orch.Run(ctx)
	}()

	if cfg.Kafka.Broker != "" {
		consumer := kafka.NewConsumer(kafka.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, buffer, logger)
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Warnf("Kafka consumer close failed: %v", err)
			}
		}()
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.Run(ctx)
		}()
	}

	// Start API server
	handler := api.NewHandler(orch, buffer, store, logger)
	router := api.NewRouter(handler, logger, cfg.API.BasePath, m.Handler())
	srv := &http.Server{Addr: cfg.API.Port, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			fail(err)
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("API server shutdown: %v", err)
	}
	wg.Wait()

	if fatal != nil {
		return cli.Exit(fatal.Error(), 1)
	}
	return nil
}
