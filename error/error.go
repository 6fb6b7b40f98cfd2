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

package error

import (
	"github.com/pingcap/errors"
)

// Errors returned by the throughput control client. They are normalized errors, callers
// compare with Equal instead of ==.
var (
	// ErrInvalidControlContainer is returned at startup when the control container is not
	// partitioned by the required key path. It is fatal for the group.
	ErrInvalidControlContainer = errors.Normalize("control container %s must be partitioned by %s, got %s",
		errors.RFCCodeText("ThroughputControl:ErrInvalidControlContainer"))
	// ErrConfigItemConflict means the config item of a group kept conflicting on creation and
	// could not be read back within the retry budget.
	ErrConfigItemConflict = errors.Normalize("config item %s of group %s still conflicts after %d attempts",
		errors.RFCCodeText("ThroughputControl:ErrConfigItemConflict"))
	ErrInvalidGroupConfig = errors.Normalize("invalid throughput control group %s: %s",
		errors.RFCCodeText("ThroughputControl:ErrInvalidGroupConfig"))
	ErrInvalidControlConfig = errors.Normalize("invalid global throughput control config: %s",
		errors.RFCCodeText("ThroughputControl:ErrInvalidControlConfig"))
	ErrGroupAlreadyExists = errors.Normalize("throughput control group %s already exists",
		errors.RFCCodeText("ThroughputControl:ErrGroupAlreadyExists"))
	ErrDuplicateDefaultGroup = errors.Normalize("default group already set to %s, cannot set %s",
		errors.RFCCodeText("ThroughputControl:ErrDuplicateDefaultGroup"))
	// ErrRequestThrottled is returned to request admission when the group has used up the
	// throughput allocated to this client for the current cycle.
	ErrRequestThrottled = errors.Normalize("request throttled by throughput control group %s",
		errors.RFCCodeText("ThroughputControl:ErrRequestThrottled"))
	ErrControllerState = errors.Normalize("controller of group %s is %s, expected %s",
		errors.RFCCodeText("ThroughputControl:ErrControllerState"))
	ErrInstanceCount = errors.Normalize("invalid instance count %d for group %s",
		errors.RFCCodeText("ThroughputControl:ErrInstanceCount"))
	ErrContainerNotFound = errors.Normalize("control container %s not found",
		errors.RFCCodeText("ThroughputControl:ErrContainerNotFound"))
)

// IsErrRequestThrottled returns true if err is caused by throughput control throttling.
func IsErrRequestThrottled(err error) bool {
	return ErrRequestThrottled.Equal(err)
}
