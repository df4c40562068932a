package queue

import (
	"fmt"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

// Queues consumed by the worker.
const (
	IngestQueue = "ingest_queue"
	DeleteQueue = "delete_queue"
)

const (
	// pubsubExchange carries broadcast events such as ingest progress.
	pubsubExchange = "pubsub"

	// retryDelayMs is how long a failed message parks in the retry queue
	// before it dead-letters back onto the main queue.
	retryDelayMs = 10000
)

// WorkerQueues lists every queue the worker consumes, in dispatch order.
var WorkerQueues = []string{IngestQueue, DeleteQueue}

// IngestMessage asks the worker to process one uploaded batch. Document ids
// reference rows created in state pending by the upload handlers; source
// distinguishes file uploads from URL ingests.
type IngestMessage struct {
	CorrelationID string  `json:"correlation_id"`
	TenantID      string  `json:"tenant_id"`
	DocumentIDs   []int64 `json:"document_ids"`
	Source        string  `json:"source"`
}

// DeleteMessage asks the worker to remove one document, its graph data, and
// its stored file.
type DeleteMessage struct {
	TenantID   string `json:"tenant_id"`
	DocumentID int64  `json:"document_id"`
}

// Init dials RabbitMQ from RABBITMQ_{USER,PASSWORD,HOST,PORT}.
func Init() (*amqp091.Connection, error) {
	connURL := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"), util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnv("RABBITMQ_HOST"), util.GetEnv("RABBITMQ_PORT"))

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the pubsub exchange and, for every queue, the durable
// main queue plus its dead-letter and retry companions. The retry queue dead-
// letters back to the main queue after retryDelayMs, which is what spaces out
// redeliveries of failed messages.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	if err := declarePubsub(ch); err != nil {
		return fmt.Errorf("failed to declare pubsub exchange: %w", err)
	}

	for _, name := range queueNames {
		if err := declareQueue(ch, name, nil); err != nil {
			return err
		}
		if err := declareQueue(ch, name+"_dlq", nil); err != nil {
			return err
		}
		retryArgs := amqp091.Table{
			"x-message-ttl":             int32(retryDelayMs),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		}
		if err := declareQueue(ch, name+"_retry", retryArgs); err != nil {
			return err
		}
	}
	return nil
}

// declareQueue declares one durable queue; autoDelete, exclusive, and noWait
// stay off.
func declareQueue(ch *amqp091.Channel, name string, args amqp091.Table) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// declarePubsub declares the topic exchange for broadcast events. Declares
// are idempotent, so publishers call this on every send.
func declarePubsub(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(pubsubExchange, "topic", false, false, false, false, nil)
}

// persistentJSON wraps a message body for publishing.
func persistentJSON(data []byte) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
}

// PublishFIFO sends a persistent message straight to a queue.
func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	return ch.Publish("", q.Name, false, false, persistentJSON(data))
}

// PublishTopic broadcasts a message on the pubsub exchange. Subscribers bind
// their own queues to the topics they care about; nothing in the worker
// depends on a listener being present.
func PublishTopic(ch *amqp091.Channel, topic string, data []byte) error {
	if err := declarePubsub(ch); err != nil {
		return err
	}
	return ch.Publish(pubsubExchange, topic, false, false, persistentJSON(data))
}
