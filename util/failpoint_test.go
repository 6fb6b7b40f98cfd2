// Copyright 2026 TiKV Authors
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

package util

import (
	"testing"

	"github.com/pingcap/failpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRecovery(t *testing.T) {
	var recovered interface{}
	WithRecovery(func() {
		panic("boom")
	}, func(r interface{}) {
		recovered = r
	})
	assert.Equal(t, "boom", recovered)

	called := false
	WithRecovery(func() { called = true }, nil)
	assert.True(t, called)
}

func TestEvalFailpoint(t *testing.T) {
	_, err := EvalFailpoint("utilTestFailpoint")
	assert.Error(t, err)

	EnableFailpoints()
	require.NoError(t, failpoint.Enable(failpointPrefix+"utilTestFailpoint", `return("hit")`))
	defer func() {
		require.NoError(t, failpoint.Disable(failpointPrefix+"utilTestFailpoint"))
	}()
	val, err := EvalFailpoint("utilTestFailpoint")
	require.NoError(t, err)
	assert.Equal(t, "hit", val)
}
