// Worker consumes Auth Service domain events from Kafka or RabbitMQ (EVENT_TRANSPORT) and
// applies them to user profiles. Failed events go to the dead-letter topic or queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartdrive/user-service/internal/app"
	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/events/consumer"
	eventhandler "smartdrive/user-service/internal/events/handler"
	"smartdrive/user-service/internal/platform/logging"
)

const restartDelay = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.New("user-service-worker", "", "info").Error("load config", "error", err)
		return 1
	}
	logger := logging.New(cfg.OTELServiceName+"-worker", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		in.Close(closeCtx)
	}()

	handler := eventhandler.New(in.Store, in.Audit, logger)
	dedup := consumer.NewRedisDeduper(in.KV, cfg.DedupTTL())
	consumerCfg := consumer.Config{MaxAttempts: cfg.EventMaxAttempts}

	switch cfg.EventTransport {
	case config.TransportAMQP:
		err = runAMQP(ctx, in, handler, dedup, consumerCfg)
	default:
		err = runKafka(ctx, in, handler, dedup, consumerCfg)
	}
	if err != nil {
		logger.Error("worker failed", "transport", cfg.EventTransport, "error", err)
		return 1
	}
	logger.Info("worker stopped")
	return 0
}

// runKafka consumes until ctx is done. A nacked message stops the consumer without
// committing; the reader is reopened so the group redelivers from the last commit.
func runKafka(ctx context.Context, in *app.Infra, h consumer.EventHandler, dedup consumer.Deduper, cfg consumer.Config) error {
	brokers := in.Config.KafkaBrokersList()
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required for the kafka transport")
	}
	dlq, err := consumer.NewKafkaDeadLetter(brokers, in.Config.KafkaDLQTopic)
	if err != nil {
		return err
	}
	defer dlq.Close()

	for {
		source, err := consumer.NewKafkaSource(brokers, in.Config.KafkaGroupID, in.Config.KafkaTopics())
		if err != nil {
			return err
		}
		in.Logger.InfoContext(ctx, "consuming events", "transport", "kafka", "group", in.Config.KafkaGroupID)
		err = consumer.New(source, h, dlq, dedup, in.Metrics, in.Logger, cfg).Run(ctx)
		_ = source.Close()
		if !errors.Is(err, consumer.ErrRedeliveryRequired) {
			return err
		}
		in.Logger.WarnContext(ctx, "restarting kafka consumer for redelivery", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
	}
}

// runAMQP consumes until ctx is done. The source doubles as the dead-letter sink: rejected
// deliveries are routed by the broker to each queue's ".dlq" companion.
func runAMQP(ctx context.Context, in *app.Infra, h consumer.EventHandler, dedup consumer.Deduper, cfg consumer.Config) error {
	if in.Config.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the amqp transport")
	}
	conn, err := consumer.DialAMQP(ctx, in.Config.AMQPURL, in.Logger)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	source, err := consumer.NewAMQPSource(conn, in.Config.AMQPQueues(), in.Logger)
	if err != nil {
		return err
	}
	defer source.Close()

	in.Logger.InfoContext(ctx, "consuming events", "transport", "amqp")
	return consumer.New(source, h, source, dedup, in.Metrics, in.Logger, cfg).Run(ctx)
}
