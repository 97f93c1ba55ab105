package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RunHandler — получатель команд над runs (реализуется orchestrator).
type RunHandler interface {
	RunPending(ctx context.Context, p RunPendingPayload) error
	RunCancel(ctx context.Context, p RunCancelPayload) error
}

// envelope — входящий Message с ещё не разобранным payload.
type envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatch разбирает тело сообщения и вызывает метод h по его типу.
//
// Сообщение, которое нельзя разобрать, неизвестного типа или без
// run_id, даёт ошибку ErrPermanent: повтор его не исправит.
func Dispatch(ctx context.Context, h RunHandler, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Permanent(fmt.Errorf("decode message: %w", err))
	}

	switch env.Type {
	case MessageTypeRunPending:
		var p RunPendingPayload
		if err := decodeRunPayload(env, &p, &p.RunID); err != nil {
			return err
		}
		return h.RunPending(ctx, p)

	case MessageTypeRunCancel:
		var p RunCancelPayload
		if err := decodeRunPayload(env, &p, &p.RunID); err != nil {
			return err
		}
		return h.RunCancel(ctx, p)

	default:
		return Permanent(fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type))
	}
}

func decodeRunPayload(env envelope, dst any, runID *uuid.UUID) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", env.Type, err))
	}
	if *runID == uuid.Nil {
		return Permanent(fmt.Errorf("%s: %w", env.Type, ErrMissingRunID))
	}
	return nil
}

// Permanent помечает ошибку обработчика как постоянную:
// сообщение уходит в DLQ, а не обратно в очередь.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// RunConsumer читает одну очередь runs и передаёт команды RunHandler.
type RunConsumer struct {
	conn     *Connection
	queue    Queue
	handler  RunHandler
	prefetch int
	logger   *slog.Logger
}

// NewRunConsumer создаёт consumer очереди queue.
func NewRunConsumer(conn *Connection, queue Queue, handler RunHandler, prefetch int, logger *slog.Logger) *RunConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RunConsumer{
		conn:     conn,
		queue:    queue,
		handler:  handler,
		prefetch: prefetch,
		logger:   logger.With("queue", string(queue)),
	}
}

// Run потребляет очередь до отмены ctx. После разрыва соединения
// подписка восстанавливается, когда Connection переподключится.
func (c *RunConsumer) Run(ctx context.Context) error {
	for {
		reconnected := c.conn.Reconnected()

		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer started")
			err = c.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("consumer interrupted", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		case <-time.After(maxReconnectDelay):
		}
	}
}

func (c *RunConsumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// Пустой consumer tag: имя выдаст брокер
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *RunConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.settle(d, Dispatch(ctx, c.handler, d.Body))
		}
	}
}

// settle подтверждает доставку или отклоняет её: временная ошибка
// возвращает сообщение в очередь, постоянная отправляет в DLQ.
func (c *RunConsumer) settle(d amqp.Delivery, err error) {
	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			c.logger.Warn("ack failed", "message_id", d.MessageId, "error", aerr)
		}
		return
	}

	requeue := !errors.Is(err, ErrPermanent)
	c.logger.Error("run command failed",
		"message_id", d.MessageId,
		"type", d.Type,
		"requeue", requeue,
		"error", err,
	)
	if nerr := d.Nack(false, requeue); nerr != nil {
		c.logger.Warn("nack failed", "message_id", d.MessageId, "error", nerr)
	}
}
