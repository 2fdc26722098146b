/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// Header keys of DMF messages.
const (
	HeaderType    = "type"
	HeaderTenant  = "tenant"
	HeaderThingID = "thing_id"
	HeaderTopic   = "topic"
)

// Accepted payload media types.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// MessageType is the value of the type header.
type MessageType int

const (
	MessageTypeThingCreated MessageType = iota + 1
	MessageTypeEvent
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeThingCreated:
		return "THING_CREATED"
	case MessageTypeEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "THING_CREATED":
		return MessageTypeThingCreated, nil
	case "EVENT":
		return MessageTypeEvent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
}

// EventTopic is the value of the topic header of EVENT messages.
type EventTopic int

const (
	TopicUpdateActionStatus EventTopic = iota + 1
	TopicUpdateAttributes
)

func (t EventTopic) String() string {
	switch t {
	case TopicUpdateActionStatus:
		return "UPDATE_ACTION_STATUS"
	case TopicUpdateAttributes:
		return "UPDATE_ATTRIBUTES"
	default:
		return fmt.Sprintf("EventTopic(%d)", int(t))
	}
}

func ParseEventTopic(s string) (EventTopic, error) {
	switch s {
	case "UPDATE_ACTION_STATUS":
		return TopicUpdateActionStatus, nil
	case "UPDATE_ATTRIBUTES":
		return TopicUpdateAttributes, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, s)
	}
}

// Envelope is one inbound broker delivery.
type Envelope struct {
	ContentType   string
	Headers       map[string]string
	ReplyTo       string
	CorrelationID []byte
	VirtualHost   string
	Body          []byte
}

// Header returns the named header, failing with ErrMissingHeader when it is absent or blank.
func (e *Envelope) Header(name string) (string, error) {
	v, ok := e.Headers[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}
	return v, nil
}

// mediaType returns the payload media type without parameters.
func (e *Envelope) mediaType() (string, error) {
	mt, _, err := mime.ParseMediaType(e.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, e.ContentType)
	}
	return mt, nil
}

// checkContentType accepts JSON and CBOR payloads. A message without payload carries no content type to check.
func (e *Envelope) checkContentType() error {
	if len(e.Body) == 0 {
		return nil
	}
	mt, err := e.mediaType()
	if err != nil {
		return err
	}
	switch mt {
	case ContentTypeJSON, ContentTypeCBOR:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, e.ContentType)
	}
}

// TargetAddress returns the AMQP URI under which the device can be reached.
func TargetAddress(virtualHost, replyTo string) string {
	return "amqp://" + url.PathEscape(virtualHost) + "/" + url.PathEscape(replyTo)
}

// ParseTargetAddress splits an address built by TargetAddress into virtual host and exchange.
func ParseTargetAddress(address string) (virtualHost, exchange string, err error) {
	rest, ok := strings.CutPrefix(address, "amqp://")
	if !ok {
		return "", "", fmt.Errorf("target address %q: not an amqp address", address)
	}
	host, path, ok := strings.Cut(rest, "/")
	if !ok || path == "" {
		return "", "", fmt.Errorf("target address %q: no exchange", address)
	}
	if virtualHost, err = url.PathUnescape(host); err != nil {
		return "", "", fmt.Errorf("target address %q: %w", address, err)
	}
	if exchange, err = url.PathUnescape(path); err != nil {
		return "", "", fmt.Errorf("target address %q: %w", address, err)
	}
	return virtualHost, exchange, nil
}
