// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Hash computes the deterministic content hash of v: SHA-1 hex over
// maps (order-insensitive, sorted by key/value hash pairs), lists
// (order-sensitive), and scalars (canonical string form). Preserving
// this order-sensitivity/insensitivity split exactly is what lets the
// snapshot writer's no-change fast path (S2) work: an object whose
// field values are bitwise-equal to its live version always hashes
// identically, regardless of incidental map iteration order.
func Hash(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return hashMap(t)
	case bson.M:
		return hashMap(map[string]any(t))
	case []any:
		return hashList(t)
	case bson.A:
		return hashList([]any(t))
	default:
		return sha1Hex(scalarRepr(v))
	}
}

func hashMap(m map[string]any) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, sha1Hex(scalarRepr(k))+":"+Hash(v))
	}
	sort.Strings(pairs)
	return sha1Hex(strings.Join(pairs, ","))
}

func hashList(list []any) string {
	hashes := make([]string, len(list))
	for i, item := range list {
		hashes[i] = Hash(item)
	}
	return sha1Hex(strings.Join(hashes, ","))
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// scalarRepr renders a scalar in a canonical, type-tagged form so
// that, e.g., the int 1, the float 1.0, and the string "1" never
// collide.
func scalarRepr(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return "'" + strings.ReplaceAll(t, "'", `\'`) + "'"
	case int:
		return "int:" + strconv.Itoa(t)
	case int32:
		return "int:" + strconv.FormatInt(int64(t), 10)
	case int64:
		return "int:" + strconv.FormatInt(t, 10)
	case float64:
		return "float:" + strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return "float:" + strconv.FormatFloat(float64(t), 'g', -1, 32)
	default:
		return fmt.Sprintf("%T:%v", t, t)
	}
}
