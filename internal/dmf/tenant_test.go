/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTenantContext(t *testing.T) {
	var first, second TenantContext
	require.NoError(t, withTenantContext("t1", func(tc TenantContext) error { first = tc; return nil }))
	require.NoError(t, withTenantContext("t1", func(tc TenantContext) error { second = tc; return nil }))

	assert.Equal(t, "t1", first.Tenant())
	assert.Equal(t, "AMQP-Controller", first.Name())
	assert.True(t, first.Authenticated())
	assert.True(t, first.HasAuthority("ROLE_CONTROLLER_ANONYMOUS"))
	assert.NotEmpty(t, first.Principal())
	assert.NotEqual(t, first.Principal(), second.Principal(), "every message gets its own identity")

	first.Authorities()[0] = "ROLE_ADMIN"
	assert.False(t, first.HasAuthority("ROLE_ADMIN"))
}

func TestWithTenantContext_ErrorsAndPanics(t *testing.T) {
	bodyErr := errors.New("body failed")
	assert.ErrorIs(t, withTenantContext("t1", func(TenantContext) error { return bodyErr }), bodyErr)

	err := withTenantContext("t1", func(TenantContext) error { panic("unexpected") })
	require.Error(t, err)
	assert.True(t, IsReject(err))
	assert.ErrorIs(t, err, ErrHandlerPanic)
}
