/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

const (
	controllerPrincipalName = "AMQP-Controller"
	roleControllerAnonymous = "ROLE_CONTROLLER_ANONYMOUS"
)

// TenantContext is the identity a message is handled under.
// A fresh value is created per message and handed down explicitly; it is never stored.
type TenantContext struct {
	tenant        string
	principal     string
	name          string
	authorities   []string
	authenticated bool
}

func newTenantContext(tenant string) TenantContext {
	return TenantContext{
		tenant:        tenant,
		principal:     uuid.NewString(),
		name:          controllerPrincipalName,
		authorities:   []string{roleControllerAnonymous},
		authenticated: true,
	}
}

func (c TenantContext) Tenant() string        { return c.tenant }
func (c TenantContext) Principal() string     { return c.principal }
func (c TenantContext) Name() string          { return c.name }
func (c TenantContext) Authenticated() bool   { return c.authenticated }
func (c TenantContext) Authorities() []string { return slices.Clone(c.authorities) }

// HasAuthority reports whether the context was granted the role.
func (c TenantContext) HasAuthority(role string) bool {
	return slices.Contains(c.authorities, role)
}

// withTenantContext runs body under an anonymous controller identity of the tenant.
// The identity ends with the call on every path; a panic in body is turned into a reject.
func withTenantContext(tenant string, body func(TenantContext) error) (err error) {
	tc := newTenantContext(tenant)
	defer func() {
		if r := recover(); r != nil {
			err = reject(fmt.Errorf("%w: %v", ErrHandlerPanic, r), "tenant %s", tenant)
		}
	}()
	return body(tc)
}
