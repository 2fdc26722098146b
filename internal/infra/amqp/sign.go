/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package amqp

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// ContentTypeCOSE is the content type of signed command bodies.
const ContentTypeCOSE = "application/cose"

// Signer wraps outbound command bodies into COSE_Sign1 messages.
type Signer struct {
	signer  cose.Signer
	headers cose.Headers
}

// NewSigner creates a Signer for a private COSE key.
func NewSigner(key *cose.Key) (*Signer, error) {
	signer, err := key.Signer()
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	alg, err := key.AlgorithmOrDefault()
	if err != nil {
		return nil, fmt.Errorf("detect algorithm id: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: alg,
		},
		Unprotected: cose.UnprotectedHeader{},
	}
	if len(key.ID) > 0 {
		headers.Unprotected[cose.HeaderLabelKeyID] = key.ID
	}
	return &Signer{signer: signer, headers: headers}, nil
}

// LoadSigner reads a CBOR encoded COSE_Key from path.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var key cose.Key
	if err := cbor.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to load signing key %s: %w", path, err)
	}
	return NewSigner(&key)
}

// Sign returns the tagged COSE_Sign1 message carrying payload.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	return cose.Sign1(rand.Reader, s.signer, s.headers, payload, nil)
}
