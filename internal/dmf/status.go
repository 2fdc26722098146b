/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"fmt"

	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// DeviceStatus is the action status code a device reports.
type DeviceStatus int

const (
	DeviceStatusDownload DeviceStatus = iota + 1
	DeviceStatusRetrieved
	DeviceStatusRunning
	DeviceStatusCanceled
	DeviceStatusFinished
	DeviceStatusError
	DeviceStatusWarning
	DeviceStatusCancelRejected
)

var deviceStatusNames = map[DeviceStatus]string{
	DeviceStatusDownload:       "DOWNLOAD",
	DeviceStatusRetrieved:      "RETRIEVED",
	DeviceStatusRunning:        "RUNNING",
	DeviceStatusCanceled:       "CANCELED",
	DeviceStatusFinished:       "FINISHED",
	DeviceStatusError:          "ERROR",
	DeviceStatusWarning:        "WARNING",
	DeviceStatusCancelRejected: "CANCEL_REJECTED",
}

func (s DeviceStatus) String() string {
	if name, ok := deviceStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DeviceStatus(%d)", int(s))
}

func ParseDeviceStatus(s string) (DeviceStatus, error) {
	for st, name := range deviceStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// mapStatus resolves the reported code against the persisted state of the action.
// CANCEL_REJECTED is only legal while a cancellation is pending.
func mapStatus(code DeviceStatus, action *model.Action) (model.Status, error) {
	switch code {
	case DeviceStatusDownload:
		return model.StatusDownload, nil
	case DeviceStatusRetrieved:
		return model.StatusRetrieved, nil
	case DeviceStatusRunning:
		return model.StatusRunning, nil
	case DeviceStatusCanceled:
		return model.StatusCanceled, nil
	case DeviceStatusFinished:
		return model.StatusFinished, nil
	case DeviceStatusError:
		return model.StatusError, nil
	case DeviceStatusWarning:
		return model.StatusWarning, nil
	case DeviceStatusCancelRejected:
		if action.IsCancelingOrCanceled() {
			return model.StatusCancelRejected, nil
		}
		return "", fmt.Errorf("%w if action is on state: %s", ErrCancelRejectNotAllowed, action.Status)
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownStatus, code)
	}
}
