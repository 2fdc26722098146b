/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ActionUpdateStatus is the payload of UPDATE_ACTION_STATUS events.
type ActionUpdateStatus struct {
	ActionID         int64    `json:"actionId" cbor:"actionId"`
	SoftwareModuleID *int64   `json:"softwareModuleId,omitempty" cbor:"softwareModuleId,omitempty"`
	ActionStatus     string   `json:"actionStatus" cbor:"actionStatus"`
	Message          []string `json:"message,omitempty" cbor:"message,omitempty"`
}

// AttributeUpdate is the payload of UPDATE_ATTRIBUTES events.
type AttributeUpdate struct {
	Attributes map[string]string `json:"attributes" cbor:"attributes"`
}

// decodePayload unmarshals the body according to its media type.
func decodePayload(env *Envelope, v any) error {
	mt, err := env.mediaType()
	if err != nil {
		return err
	}
	switch mt {
	case ContentTypeJSON:
		err = json.Unmarshal(env.Body, v)
	case ContentTypeCBOR:
		err = cbor.Unmarshal(env.Body, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, env.ContentType)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
