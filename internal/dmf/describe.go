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

const maxDescribedBody = 512

// describeBody renders a message body for logs. CBOR bodies are shown as JSON with
// byte strings in h'..' notation; anything undecodable is shown as quoted text.
func describeBody(env *Envelope) string {
	if len(env.Body) == 0 {
		return ""
	}
	if mt, err := env.mediaType(); err == nil && mt == ContentTypeCBOR {
		var decoded any
		if err := cbor.Unmarshal(env.Body, &decoded); err == nil {
			if out, err := json.Marshal(normaliseCBOR(decoded)); err == nil {
				return truncate(string(out))
			}
		}
	}
	return truncate(fmt.Sprintf("%q", env.Body))
}

func truncate(s string) string {
	if len(s) <= maxDescribedBody {
		return s
	}
	return s[:maxDescribedBody] + "..."
}

func normaliseCBOR(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = normaliseCBOR(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[cborKey(key)] = normaliseCBOR(val)
		}
		return out
	case []byte:
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"_cborTag": v.Number,
			"content":  normaliseCBOR(v.Content),
		}
	default:
		return v
	}
}

func cborKey(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
