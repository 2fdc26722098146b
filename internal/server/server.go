/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kentakayama/dmf-over-amqp/internal/config"
	"github.com/kentakayama/dmf-over-amqp/internal/dmf"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	amqpinfra "github.com/kentakayama/dmf-over-amqp/internal/infra/amqp"
	"github.com/kentakayama/dmf-over-amqp/internal/infra/sqlite"
	"github.com/kentakayama/dmf-over-amqp/internal/logging"
)

// Server wires the broker connection and the message handling stack.
type Server struct {
	cfg             *config.HubConfig
	db              *sql.DB
	conn            *amqp.Connection
	consumeCh       *amqp.Channel
	publishCh       *amqp.Channel
	consumer        *amqpinfra.Consumer
	dispatcher      *amqpinfra.Dispatcher
	logger          logging.Logger
	shutdownTracing func(context.Context) error
}

// New constructs a Server using the provided configuration. It opens the database and dials the broker.
func New(ctx context.Context, cfg *config.HubConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logging.New("server")}

	shutdown, err := initTracing(ctx, cfg.Tracing, func(err error) {
		s.logger.WithError(err).Warn("tracing")
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownTracing = shutdown

	if s.db, err = sqlite.InitDB(ctx, cfg.Database.Path); err != nil {
		s.Close(ctx)
		return nil, err
	}
	if err := s.connect(); err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.dispatcher, err = NewDispatcher(cfg, s.publishCh)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	handler := dmf.NewHandler(sqlite.NewControllerManagement(s.db), s.dispatcher, logging.New("handler"))
	s.consumer = amqpinfra.NewConsumer(cfg.AMQP, handler, logging.New("consumer"))
	return s, nil
}

// NewDispatcher creates the outbound dispatcher on the given publishing channel, loading the signing key if configured.
func NewDispatcher(cfg *config.HubConfig, pub amqpinfra.Publisher) (*amqpinfra.Dispatcher, error) {
	var signer *amqpinfra.Signer
	if cfg.Dispatcher.SigningKeyFile != "" {
		var err error
		if signer, err = amqpinfra.LoadSigner(cfg.Dispatcher.SigningKeyFile); err != nil {
			return nil, err
		}
	}
	return amqpinfra.NewDispatcher(pub, cfg.AMQP.VirtualHost, signer, cfg.Dispatcher.PublishTimeout, logging.New("dispatcher")), nil
}

func (s *Server) connect() error {
	conn, err := amqp.Dial(s.cfg.AMQP.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	s.conn = conn
	if s.consumeCh, err = conn.Channel(); err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if s.publishCh, err = conn.Channel(); err != nil {
		return fmt.Errorf("open publisher channel: %w", err)
	}
	return nil
}

// Run consumes the receiver queue and blocks until ctx is done or the broker connection is lost.
func (s *Server) Run(ctx context.Context) error {
	deliveries, err := s.consumer.Setup(s.consumeCh)
	if err != nil {
		return err
	}
	s.logger.WithField("queue", s.cfg.AMQP.ReceiverQueue).Info("Run DMF hub.")

	err = s.consumer.Run(ctx, deliveries)
	if errors.Is(err, amqpinfra.ErrDeliveriesClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the broker connection, the database and the tracer provider.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.conn != nil && !s.conn.IsClosed() {
		errs = append(errs, s.conn.Close())
	}
	errs = append(errs, sqlite.CloseDB(s.db))
	if s.shutdownTracing != nil {
		errs = append(errs, s.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

// Notify offers the oldest active action of target over a short-lived broker connection.
// Operator commands use it after assigning or canceling work.
func Notify(ctx context.Context, cfg *config.HubConfig, db *sql.DB, target *model.Target) error {
	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publisher channel: %w", err)
	}

	dispatcher, err := NewDispatcher(cfg, ch)
	if err != nil {
		return err
	}
	handler := dmf.NewHandler(sqlite.NewControllerManagement(db), dispatcher, logging.New("notify"))
	return handler.NotifyTarget(ctx, target)
}
