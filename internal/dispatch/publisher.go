// Package dispatch hands admitted jobs to the worker pool through RabbitMQ.
// The audio payload crosses the boundary by value inside the message body;
// the request's buffers are gone once the response is written.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// TaskMessage is the unit of work a worker consumes. Audio is base64 in the
// JSON body.
type TaskMessage struct {
	JobID       string `json:"job_id"`
	ContentType string `json:"content_type"`
	Language    string `json:"language"`
	PlanCode    string `json:"plan_code"`
	Audio       []byte `json:"audio"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology declares the main queue plus its retry and dead-letter
// companions. Both publisher and worker declare the same topology so either
// side can start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return err
	}

	// retry queue: message TTL dead-letters back to the main queue
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return err
	}

	// main queue: rejected deliveries land in the DLQ
	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishTask enqueues the task and returns immediately with the message id
// used as the job's async handle.
func (p *Publisher) PublishTask(ctx context.Context, task TaskMessage) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	taskID := uuid.NewString()

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    taskID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return "", err
	}
	return taskID, nil
}
