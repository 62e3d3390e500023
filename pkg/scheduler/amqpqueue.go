package scheduler

import (
	"encoding/json"

	"github.com/streadway/amqp"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/graph"
)

// AMQPReadyQueue is an optional transport for a multi-process scheduler
// deployment: ready targets are published to a durable queue instead of an
// in-memory deque, so any replica's worker pool can consume them. Connection
// and channel lifecycle mirrors queue/rabbit.go's RabbitMQService
// (dial -> channel -> declare durable queue), generalized from a single
// fixed FlowProcessMessage payload to a {target, priority} envelope.
type AMQPReadyQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

type readyEnvelope struct {
	Target   string `json:"target"`
	Priority int    `json:"priority"`
}

// NewAMQPReadyQueue dials url and declares a durable queue named name,
// exactly as NewRabbitMQServiceWithDialer declares config.QueueName.
func NewAMQPReadyQueue(url, name string) (*AMQPReadyQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "scheduler.NewAMQPReadyQueue", url, err).WithRetry()
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, ferr.New(ferr.KindNetwork, "scheduler.NewAMQPReadyQueue", url, err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, ferr.New(ferr.KindNetwork, "scheduler.NewAMQPReadyQueue", name, err)
	}
	return &AMQPReadyQueue{conn: conn, channel: ch, queue: name}, nil
}

// Push publishes target at priority to the default exchange, routed by the
// declared queue name (the same exchange/routing-key convention
// RabbitMQService.PublishMessage uses).
func (q *AMQPReadyQueue) Push(target graph.TargetID, priority Priority) error {
	body, err := json.Marshal(readyEnvelope{Target: string(target), Priority: int(priority)})
	if err != nil {
		return ferr.New(ferr.KindInternal, "scheduler.AMQPReadyQueue.Push", string(target), err)
	}
	err = q.channel.Publish("", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Priority:     amqpPriority(priority),
	})
	if err != nil {
		return ferr.New(ferr.KindNetwork, "scheduler.AMQPReadyQueue.Push", string(target), err).WithRetry()
	}
	return nil
}

// Consume starts a consumer delivering ready targets as they are published.
func (q *AMQPReadyQueue) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := q.channel.Consume(q.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "scheduler.AMQPReadyQueue.Consume", q.queue, err)
	}
	return deliveries, nil
}

// Decode parses a delivery body back into a target/priority pair.
func Decode(body []byte) (graph.TargetID, Priority, error) {
	var env readyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", 0, ferr.New(ferr.KindInternal, "scheduler.Decode", "", err)
	}
	return graph.TargetID(env.Target), Priority(env.Priority), nil
}

// Close tears down the channel and connection.
func (q *AMQPReadyQueue) Close() error {
	q.channel.Close()
	return q.conn.Close()
}

// amqpPriority maps the scheduler's four-level Priority onto AMQP's 0-9
// message priority range (AMQP priority queues require
// x-max-priority on the declared queue to take effect).
func amqpPriority(p Priority) uint8 {
	switch p {
	case Critical:
		return 9
	case High:
		return 6
	case Normal:
		return 3
	default:
		return 0
	}
}
