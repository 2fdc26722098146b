/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package amqp

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kentakayama/dmf-over-amqp/internal/config"
	"github.com/kentakayama/dmf-over-amqp/internal/dmf"
)

const consumerTag = "dmf-hub"

// ErrDeliveriesClosed is returned by Run when the broker closed the delivery channel.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// MessageHandler handles one envelope; *dmf.Handler implements it.
type MessageHandler interface {
	OnMessage(ctx context.Context, env *dmf.Envelope) error
}

// Channel is the part of *amqp.Channel the consumer needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer feeds deliveries of the receiver queue to a pool of workers.
type Consumer struct {
	cfg     config.AMQPConfig
	handler MessageHandler
	logger  logrus.FieldLogger
}

func NewConsumer(cfg config.AMQPConfig, handler MessageHandler, logger logrus.FieldLogger) *Consumer {
	return &Consumer{cfg: cfg, handler: handler, logger: logger}
}

// Setup declares the receiver exchange and queue and starts consuming with manual acknowledgement.
func (c *Consumer) Setup(ch Channel) (<-chan amqp.Delivery, error) {
	if c.cfg.ReceiverExchange != "" {
		if err := ch.ExchangeDeclare(c.cfg.ReceiverExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare exchange %s: %w", c.cfg.ReceiverExchange, err)
		}
	}
	if _, err := ch.QueueDeclare(c.cfg.ReceiverQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", c.cfg.ReceiverQueue, err)
	}
	if c.cfg.ReceiverExchange != "" {
		if err := ch.QueueBind(c.cfg.ReceiverQueue, "", c.cfg.ReceiverExchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s: %w", c.cfg.ReceiverQueue, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.ReceiverQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.ReceiverQueue, err)
	}
	return deliveries, nil
}

// Run handles deliveries with the configured number of workers until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	workers := max(c.cfg.Concurrency, 1)
	c.logger.WithFields(logrus.Fields{"queue": c.cfg.ReceiverQueue, "workers": workers}).Info("consuming")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return ErrDeliveriesClosed
					}
					c.handle(context.WithoutCancel(ctx), d)
				}
			}
		})
	}
	return g.Wait()
}

// handle processes one delivery and settles it. It never panics.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	logger := c.logger.WithField("delivery_tag", d.DeliveryTag)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("recovered while handling delivery")
			if err := d.Nack(false, false); err != nil {
				logger.WithError(err).Error("failed to nack delivery")
			}
		}
	}()

	err := c.handler.OnMessage(ctx, envelope(d, c.cfg.VirtualHost))
	if err := c.settle(d, err); err != nil {
		logger.WithError(err).Error("failed to settle delivery")
	}
}

func (c *Consumer) settle(d amqp.Delivery, handleErr error) error {
	switch {
	case handleErr == nil:
		return d.Ack(false)
	case dmf.IsReject(handleErr):
		return d.Nack(false, false)
	default:
		return d.Nack(false, c.cfg.RequeueOnError)
	}
}

// envelope converts a delivery; header values that are not strings are rendered with fmt.
func envelope(d amqp.Delivery, virtualHost string) *dmf.Envelope {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		switch v := v.(type) {
		case string:
			headers[k] = v
		case []byte:
			headers[k] = string(v)
		case nil:
		default:
			headers[k] = fmt.Sprint(v)
		}
	}
	var correlationID []byte
	if d.CorrelationId != "" {
		correlationID = []byte(d.CorrelationId)
	}
	return &dmf.Envelope{
		ContentType:   d.ContentType,
		Headers:       headers,
		ReplyTo:       d.ReplyTo,
		CorrelationID: correlationID,
		VirtualHost:   virtualHost,
		Body:          d.Body,
	}
}
