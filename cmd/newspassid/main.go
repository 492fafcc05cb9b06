package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/gmg-media/newspassid/internal/braze"
	"github.com/gmg-media/newspassid/internal/config"
	"github.com/gmg-media/newspassid/internal/pacing"
	"github.com/gmg-media/newspassid/internal/server"
	"github.com/gmg-media/newspassid/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewS3Client(&cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage client")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket; writes may fail")
	}

	var sender *braze.Sender
	if cfg.Braze.QueueURL != "" {
		region := cfg.Storage.Region
		if region == "" {
			region = "us-east-1"
		}
		creds := credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, "")
		queue := &braze.SQSQueue{
			Client: sqs.NewFromConfig(aws.Config{
				Region:      region,
				Credentials: aws.NewCredentialsCache(creds),
			}),
			QueueURL: cfg.Braze.QueueURL,
		}
		sender = &braze.Sender{Queue: queue, Now: time.Now, Log: logger}

		processor := &braze.Processor{
			Queue: queue,
			API: &braze.APIClient{
				HTTP:         &http.Client{Timeout: 30 * time.Second},
				RESTEndpoint: cfg.Braze.RESTEndpoint,
				APIKey:       cfg.Braze.APIKey,
			},
			Log: logger,
		}
		go processor.Run(ctx)
	}

	if cfg.Braze.Endpoint != "" {
		tracker := &pacing.Tracker{
			HTTP:         &http.Client{Timeout: 30 * time.Second},
			Store:        store,
			Endpoint:     cfg.Braze.Endpoint,
			APIKey:       cfg.Braze.APIKey,
			MonthlyLimit: cfg.Braze.MonthlyLimit,
			Now:          time.Now,
			Log:          logger,
		}
		pacing.StartScheduler(ctx, tracker, time.Duration(cfg.Pacing.IntervalMinutes)*time.Minute)
	}

	srv := server.New(cfg, store, sender, logger)
	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
