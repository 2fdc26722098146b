/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/service"
)

const (
	tracerName = "github.com/kentakayama/dmf-over-amqp/internal/dmf"

	// prefix of messages the hub adds to a device's status history
	serverMessagePrefix = "Update Server: "
)

// Handler routes inbound DMF messages to the controller management.
// It holds no per-message state and is safe for concurrent use.
type Handler struct {
	controller service.ControllerManagement
	dispatcher Dispatcher
	logger     logrus.FieldLogger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewHandler(controller service.ControllerManagement, dispatcher Dispatcher, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		controller: controller,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OnMessage handles one delivery. It never replies to the sender.
// A *RejectError means the message must not be redelivered; any other error comes from a collaborator.
func (h *Handler) OnMessage(ctx context.Context, env *Envelope) error {
	ctx, span := h.tracer.Start(ctx, "dmf.OnMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("dmf.type", env.Headers[HeaderType]),
			attribute.String("dmf.tenant", env.Headers[HeaderTenant]),
			attribute.String("dmf.thing_id", env.Headers[HeaderThingID]),
			attribute.String("dmf.topic", env.Headers[HeaderTopic]),
		),
	)
	defer span.End()

	err := h.onMessage(ctx, env)
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	entry := h.logger.WithFields(logrus.Fields{
		"type":     env.Headers[HeaderType],
		"tenant":   env.Headers[HeaderTenant],
		"thing_id": env.Headers[HeaderThingID],
		"topic":    env.Headers[HeaderTopic],
	}).WithError(err)
	if IsReject(err) {
		entry.Warn("rejecting message")
		entry.WithField("body", describeBody(env)).Debug("rejected message body")
	} else {
		entry.Error("failed to handle message")
	}
	return err
}

func (h *Handler) onMessage(ctx context.Context, env *Envelope) error {
	if err := env.checkContentType(); err != nil {
		return reject(err, "invalid content type")
	}

	typ, err := env.Header(HeaderType)
	if err != nil {
		return reject(err, "invalid message")
	}
	tenant, err := env.Header(HeaderTenant)
	if err != nil {
		return reject(err, "invalid message")
	}
	messageType, err := ParseMessageType(typ)
	if err != nil {
		return reject(err, "invalid message")
	}

	return withTenantContext(tenant, func(tc TenantContext) error {
		switch messageType {
		case MessageTypeThingCreated:
			return h.registerTarget(ctx, tc, env)
		case MessageTypeEvent:
			topicValue, err := env.Header(HeaderTopic)
			if err != nil {
				return reject(err, "event topic is null")
			}
			topic, err := ParseEventTopic(topicValue)
			if err != nil {
				return reject(err, "invalid message")
			}
			return h.handleIncomingEvent(ctx, tc, env, topic)
		default:
			return reject(ErrUnknownMessageType, "type %v", messageType)
		}
	})
}

func (h *Handler) handleIncomingEvent(ctx context.Context, tc TenantContext, env *Envelope, topic EventTopic) error {
	switch topic {
	case TopicUpdateActionStatus:
		return h.updateActionStatus(ctx, tc, env)
	case TopicUpdateAttributes:
		return h.updateAttributes(ctx, tc, env)
	default:
		return reject(ErrUnknownTopic, "topic %v", topic)
	}
}

// registerTarget creates the target or refreshes its address, then offers it pending work.
func (h *Handler) registerTarget(ctx context.Context, tc TenantContext, env *Envelope) error {
	thingID, err := env.Header(HeaderThingID)
	if err != nil {
		return reject(err, "thing id is null")
	}
	if env.ReplyTo == "" {
		return reject(ErrNoReplyTo, "thing %s", thingID)
	}

	address := TargetAddress(env.VirtualHost, env.ReplyTo)
	target, err := h.controller.FindOrRegisterTargetIfItDoesNotExist(ctx, tc.Tenant(), thingID, address)
	if err != nil {
		return err
	}
	h.logger.WithFields(logrus.Fields{"tenant": tc.Tenant(), "thing_id": thingID}).Debug("target reported online state")

	return h.lookIfUpdateAvailable(ctx, tc, target)
}

// NotifyTarget offers the oldest active action of an already registered target.
func (h *Handler) NotifyTarget(ctx context.Context, target *model.Target) error {
	return withTenantContext(target.Tenant, func(tc TenantContext) error {
		return h.lookIfUpdateAvailable(ctx, tc, target)
	})
}

// lookIfUpdateAvailable sends the oldest active action of the target, if there is one.
// A pending cancellation is sent instead of the update.
func (h *Handler) lookIfUpdateAvailable(ctx context.Context, tc TenantContext, target *model.Target) error {
	action, err := h.controller.FindOldestActiveActionByTarget(ctx, tc.Tenant(), target.ControllerID)
	if err != nil {
		return err
	}
	if action == nil {
		return nil
	}

	if action.IsCancelingOrCanceled() {
		return h.dispatcher.SendCancelMessageToTarget(ctx, target.Tenant, target.ControllerID, action.ID, target.Address)
	}

	actionTarget := action.Target
	if actionTarget == nil {
		actionTarget = target
	}
	var modules []model.SoftwareModule
	if action.DistributionSet != nil {
		modules = action.DistributionSet.Modules
	}
	return h.dispatcher.SendUpdateMessageToTarget(ctx, action.Tenant, actionTarget, action.ID, modules)
}

func (h *Handler) updateAttributes(ctx context.Context, tc TenantContext, env *Envelope) error {
	var update AttributeUpdate
	if err := decodePayload(env, &update); err != nil {
		return reject(err, "attribute update")
	}
	thingID, err := env.Header(HeaderThingID)
	if err != nil {
		return reject(err, "thing id is null")
	}

	_, err = h.controller.UpdateControllerAttributes(ctx, tc.Tenant(), thingID, update.Attributes)
	return err
}

func (h *Handler) updateActionStatus(ctx context.Context, tc TenantContext, env *Envelope) error {
	var update ActionUpdateStatus
	if err := decodePayload(env, &update); err != nil {
		return reject(err, "action update status")
	}
	if _, err := env.Header(HeaderThingID); err != nil {
		return reject(err, "thing id is null")
	}
	code, err := ParseDeviceStatus(update.ActionStatus)
	if err != nil {
		return reject(err, "action %d", update.ActionID)
	}

	logger := h.logger.WithFields(logrus.Fields{"tenant": tc.Tenant(), "action_id": update.ActionID})
	logger.WithField("status", code).Debug("target notifies intermediate about action")

	action, err := h.controller.FindActionWithDetails(ctx, tc.Tenant(), update.ActionID)
	if err != nil {
		return err
	}
	if action == nil || action.Target == nil {
		return reject(ErrActionNotFound, "got intermediate notification about action %d", update.ActionID)
	}

	messages := slices.Clone(update.Message)
	if len(env.CorrelationID) > 0 {
		messages = append(messages, serverMessagePrefix+"DMF message correlation-id "+string(env.CorrelationID))
	}

	if _, err := h.controller.UpdateLastTargetQuery(ctx, tc.Tenant(), action.Target.ControllerID, h.now()); err != nil {
		return err
	}

	status, err := mapStatus(code, action)
	if err != nil {
		logger.WithField("current_status", action.Status).Warn("status not accepted for action")
		return reject(err, "action %d", action.ID)
	}

	create := model.NewActionStatusCreate(action.ID, status, messages)
	var updated *model.Action
	if status == model.StatusCanceled {
		updated, err = h.controller.AddCancelActionStatus(ctx, tc.Tenant(), create)
	} else {
		updated, err = h.controller.AddUpdateActionStatus(ctx, tc.Tenant(), create)
	}
	if err != nil {
		if errors.Is(err, domain.ErrCancelNotAllowed) {
			return reject(err, "action %d on state %s", action.ID, action.Status)
		}
		return err
	}

	if !updated.Active {
		return h.lookIfUpdateAvailable(ctx, tc, action.Target)
	}
	return nil
}
