package mq

import "errors"

// Ошибки очередей.
var (
	// ErrNoChannel — соединение с RabbitMQ сейчас не установлено.
	ErrNoChannel = errors.New("no channel available")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPermanent — обработка сообщения не удастся и при повторе;
	// сообщение не возвращается в очередь.
	ErrPermanent = errors.New("permanent message failure")

	// ErrUnknownMessage — тип сообщения не обрабатывается очередями runs.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrMissingRunID — в payload нет run_id.
	ErrMissingRunID = errors.New("message has no run_id")

	// ErrDeliveriesClosed — брокер закрыл поток доставок.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")
)
