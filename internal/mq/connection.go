package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	heartbeat         = 10 * time.Second
	reconnectDelay    = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Connection — AMQP-соединение сервиса Conveyor с одним каналом.
//
// После разрыва supervise переподключается с растущей задержкой;
// каждое переподключение закрывает текущий канал Reconnected, так что
// его видят все consumers сразу.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	reconnected chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection подключается к RabbitMQ.
// name попадает в свойство connection_name (видно в management UI).
func NewConnection(url, name string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		name:        name,
		logger:      logger.With("component", "amqp", "connection", name),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	conn, ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.swap(conn, ch)
	c.logger.Info("connected to RabbitMQ")

	go c.supervise(conn)

	return c, nil
}

func (c *Connection) dial() (*amqp.Connection, *amqp.Channel, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: props,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	return conn, ch, nil
}

// swap подменяет соединение. После Close новое соединение сразу
// закрывается и swap возвращает false.
func (c *Connection) swap(conn *amqp.Connection, ch *amqp.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		if conn != nil {
			conn.Close()
		}
		return false
	default:
	}

	c.conn = conn
	c.channel = ch
	return true
}

// supervise ждёт разрыва conn и восстанавливает соединение.
func (c *Connection) supervise(conn *amqp.Connection) {
	for {
		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-lost:
			c.logger.Warn("connection lost", "error", err)
		}

		c.swap(nil, nil)

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next

		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()
	}
}

// redial повторяет подключение, удваивая задержку до maxReconnectDelay.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, ch, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err, "retry_in", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		if !c.swap(conn, ch) {
			return nil, false
		}

		c.logger.Info("reconnected to RabbitMQ")
		return conn, true
	}
}

// Reconnected возвращает канал, который закроется при следующем
// переподключении. Канал нужно взять до попытки, исход которой ждём.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Channel возвращает открытый канал или ErrConnectionClosed / ErrNoChannel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}
	return ch, nil
}

// WithChannel выполняет fn на текущем канале.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := c.Channel()
	if err != nil {
		return err
	}
	return fn(ch)
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		close(c.done)

		var errs []error
		if c.channel != nil && !c.channel.IsClosed() {
			if cerr := c.channel.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", cerr))
			}
		}
		if c.conn != nil && !c.conn.IsClosed() {
			if cerr := c.conn.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close connection: %w", cerr))
			}
		}
		c.conn, c.channel = nil, nil

		err = errors.Join(errs...)
		c.logger.Info("connection closed")
	})

	return err
}
