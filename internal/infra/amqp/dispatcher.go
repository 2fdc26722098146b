/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/kentakayama/dmf-over-amqp/internal/dmf"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// Outbound event topics.
const (
	TopicDownloadAndInstall = "DOWNLOAD_AND_INSTALL"
	TopicCancelDownload     = "CANCEL_DOWNLOAD"
)

var _ dmf.Dispatcher = (*Dispatcher)(nil)

// Publisher is the part of *amqp.Channel the dispatcher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// SoftwareModule is one module of a download request.
type SoftwareModule struct {
	ModuleID      int64  `json:"moduleId"`
	ModuleType    string `json:"moduleType"`
	ModuleName    string `json:"moduleName"`
	ModuleVersion string `json:"moduleVersion"`
}

// DownloadAndUpdateRequest is the body of DOWNLOAD_AND_INSTALL commands.
type DownloadAndUpdateRequest struct {
	ActionID        int64            `json:"actionId"`
	SoftwareModules []SoftwareModule `json:"softwareModules"`
}

// CancelRequest is the body of CANCEL_DOWNLOAD commands.
type CancelRequest struct {
	ActionID int64 `json:"actionId"`
}

// Dispatcher publishes commands to the reply exchange of a device.
type Dispatcher struct {
	pub         Publisher
	virtualHost string
	signer      *Signer
	timeout     time.Duration
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher publishing on the broker vhost virtualHost.
// signer may be nil for unsigned JSON bodies.
func NewDispatcher(pub Publisher, virtualHost string, signer *Signer, timeout time.Duration, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		pub:         pub,
		virtualHost: virtualHost,
		signer:      signer,
		timeout:     timeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) SendUpdateMessageToTarget(ctx context.Context, tenant string, target *model.Target, actionID int64, modules []model.SoftwareModule) error {
	req := DownloadAndUpdateRequest{
		ActionID:        actionID,
		SoftwareModules: make([]SoftwareModule, 0, len(modules)),
	}
	for _, m := range modules {
		req.SoftwareModules = append(req.SoftwareModules, SoftwareModule{
			ModuleID:      m.ID,
			ModuleType:    m.Type,
			ModuleName:    m.Name,
			ModuleVersion: m.Version,
		})
	}
	return d.send(ctx, TopicDownloadAndInstall, tenant, target.ControllerID, target.Address, actionID, req)
}

func (d *Dispatcher) SendCancelMessageToTarget(ctx context.Context, tenant, controllerID string, actionID int64, address string) error {
	return d.send(ctx, TopicCancelDownload, tenant, controllerID, address, actionID, CancelRequest{ActionID: actionID})
}

func (d *Dispatcher) send(ctx context.Context, topic, tenant, controllerID, address string, actionID int64, body any) error {
	vhost, exchange, err := dmf.ParseTargetAddress(address)
	if err != nil {
		return err
	}
	if vhost != d.virtualHost {
		return fmt.Errorf("target %s is reachable on vhost %q, dispatcher is connected to %q", controllerID, vhost, d.virtualHost)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", topic, err)
	}
	contentType := dmf.ContentTypeJSON
	if d.signer != nil {
		if payload, err = d.signer.Sign(payload); err != nil {
			return fmt.Errorf("sign %s body: %w", topic, err)
		}
		contentType = ContentTypeCOSE
	}

	msg := amqp.Publishing{
		Headers: amqp.Table{
			dmf.HeaderType:    "EVENT",
			dmf.HeaderTopic:   topic,
			dmf.HeaderThingID: controllerID,
			dmf.HeaderTenant:  tenant,
		},
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    d.now(),
		Body:         payload,
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.pub.PublishWithContext(ctx, exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", topic, exchange, err)
	}

	d.logger.WithFields(logrus.Fields{
		"tenant":    tenant,
		"thing_id":  controllerID,
		"action_id": actionID,
		"topic":     topic,
		"exchange":  exchange,
	}).Debug("command sent")
	return nil
}
