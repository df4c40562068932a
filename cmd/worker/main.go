package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/queue"
	"github.com/meridian-hq/atlas/backend/internal/server"
	"github.com/meridian-hq/atlas/backend/internal/storage"
	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/logger/console"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	amqp "github.com/rabbitmq/amqp091-go"
)

// A delivery may be attempted this many times before it parks in the DLQ.
const maxDeliveryAttempts = 10

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	aiClient, err := server.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	// pgvector types must be registered on every pooled connection
	poolConfig, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Invalid database config", "err", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	pubCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer pubCh.Close()

	if err := queue.SetupQueues(pubCh, queue.WorkerQueues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// Re-enqueue batches that were mid-pipeline when a previous worker died.
	if err := queue.RecoverStaleDocuments(ctx, pubCh, pgConn); err != nil {
		logger.Error("Failed to recover stale documents", "err", err)
	}

	// One consumer channel with prefetch 1: a single message in flight
	// across all queues, because the pipelines are too heavy to overlap.
	subCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer subCh.Close()

	if err := subCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	w := &worker{
		s3:  s3Client,
		ai:  aiClient,
		pub: pubCh,
		sub: subCh,
		db:  pgConn,
	}

	messages := make(chan queuedMessage)
	for _, name := range queue.WorkerQueues {
		go consumeQueue(ctx, subCh, name, messages)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messages:
				w.handle(ctx, qm)
			}
		}
	}()

	logger.Info("Listening for messages")

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// queuedMessage pairs a delivery with the queue it came from.
type queuedMessage struct {
	delivery amqp.Delivery
	queue    string
}

// consumeQueue feeds deliveries from one queue into out until the context
// ends or the broker closes the stream.
func consumeQueue(ctx context.Context, ch *amqp.Channel, name string, out chan<- queuedMessage) {
	// Manual acks; the remaining Consume flags stay at their defaults.
	deliveries, err := ch.Consume(name, name+"_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", name, "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", name)
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("Message channel closed", "queue", name)
				return
			}
			out <- queuedMessage{delivery: msg, queue: name}
		}
	}
}

// worker bundles the clients a delivery needs on its way through a pipeline.
type worker struct {
	s3  *awss3.Client
	ai  ai.GraphAIClient
	pub *amqp.Channel // pipelines enqueue follow-up work here
	sub *amqp.Channel // consumer channel; failed deliveries republish here
	db  *pgxpool.Pool
}

// handle runs one delivery through its pipeline, then acks it or hands it to
// the retry path. The AI usage counters are logged and reset per message so
// each report covers exactly one batch.
func (w *worker) handle(ctx context.Context, qm queuedMessage) {
	started := time.Now()
	logger.Info("Received message", "queue", qm.queue)

	var err error
	switch qm.queue {
	case queue.IngestQueue:
		err = queue.ProcessIngestMessage(ctx, w.s3, w.ai, w.pub, w.db, string(qm.delivery.Body))
	case queue.DeleteQueue:
		err = queue.ProcessDeleteMessage(ctx, w.s3, w.ai, w.pub, w.db, string(qm.delivery.Body))
	}

	if err != nil {
		logger.Error("Error processing message", "queue", qm.queue, "err", err)
		w.reroute(ctx, qm)
	} else if ackErr := qm.delivery.Ack(false); ackErr != nil {
		logger.Error("Failed to ack message", "err", ackErr)
	} else {
		logger.Info("Message processed successfully", "queue", qm.queue)
	}

	usage := w.ai.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"total_tokens", usage.TotalTokens,
		"duration", clockFormat(time.Duration(usage.DurationMs)*time.Millisecond),
	)
	logger.Info("Processing time", "duration", clockFormat(time.Since(started)))
	logger.Info("Waiting for next message")
	w.ai.ResetMetrics()
}

// reroute decides what happens to a failed delivery. After the attempt limit
// it parks in the dead-letter queue; before that the affected documents are
// reset to pending and the delivery re-enters through the retry queue, whose
// TTL spaces out redeliveries.
func (w *worker) reroute(ctx context.Context, qm queuedMessage) {
	retries := messageRetries(qm.delivery)
	if retries >= maxDeliveryAttempts {
		logger.Info("Sending message to DLQ", "queue", qm.queue)
		w.republish(qm.queue+"_dlq", qm.delivery, qm.delivery.Headers)
		return
	}

	queue.ResetDocumentsForRetry(ctx, w.db, qm.queue, qm.delivery.Body)

	headers := qm.delivery.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = int32(retries + 1)
	w.republish(qm.queue+"_retry", qm.delivery, headers)
}

// republish moves a delivery onto target and acks the original. When the
// publish itself fails the delivery is nacked back onto its source queue.
func (w *worker) republish(target string, msg amqp.Delivery, headers amqp.Table) {
	err := w.sub.Publish("", target, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        msg.Body,
		Headers:     headers,
	})
	if err != nil {
		logger.Error("Failed to republish message", "queue", target, "err", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// messageRetries reads the retry counter from the message headers. The
// counter is written as int32 but may round-trip through RabbitMQ as int64.
func messageRetries(msg amqp.Delivery) int {
	val, ok := msg.Headers["x-retries"]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// clockFormat renders a duration as HH:MM:SS for the per-message log lines.
func clockFormat(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
