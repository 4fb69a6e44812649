/*
main.go - Kafka worker entry point

PURPOSE:
  Consumes provider events from Kafka and applies them with the same
  engine the HTTP server uses. Events for unknown payment intents and
  payloads that fail to decode go to the DLQ topic.

  Point the worker and the server at shared storage (sqlite on a shared
  volume, redis for dedup) when both run.

CONFIGURATION:
  kafka.brokers, kafka.group, kafka.topic, kafka.dlq_topic
  (env: KAFKA_BROKERS, KAFKA_CONSUMER_GROUP, KAFKA_TOPIC_PROVIDER_EVENTS,
  KAFKA_TOPIC_DLQ). See config/config.go for the rest.

SHUTDOWN:
  SIGINT/SIGTERM cancels the consumer; the in-flight event finishes or is
  left uncommitted for redelivery.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/config"
	"github.com/warp/payment-engine/events"
	"github.com/warp/payment-engine/factory"
	"github.com/warp/payment-engine/logging"
)

func main() {
	configPath := flag.String("config", "payments.yaml", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("kafka.brokers is required")
	}

	writer, err := events.NewDeadLetterWriter(cfg.KafkaBrokers)
	if err != nil {
		return err
	}
	dlq := events.NewDeadLetterPublisher(writer, cfg.KafkaDLQTopic)
	defer dlq.Close()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	eng, err := factory.NewEngine(startCtx, cfg, logger, factory.WithDeadLetters(dlq))
	cancel()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	reader, err := events.NewReader(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic)
	if err != nil {
		return err
	}
	consumer := events.NewConsumer(reader, eng.Service, dlq, logger)
	defer consumer.Close()

	logger.Info("worker starting",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.KafkaGroup),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("dlq_topic", cfg.KafkaDLQTopic))
	return consumer.Run(ctx)
}
