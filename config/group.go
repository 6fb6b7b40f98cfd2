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

package config

import (
	"fmt"
	"strings"
	"time"

	tperr "github.com/tikv/throughput-control/error"
)

// Limits of the global control intervals.
const (
	DefaultControlItemRenewInterval  = 10 * time.Second
	DefaultControlItemExpireInterval = 30 * time.Second
	MinControlItemRenewInterval      = time.Second
)

// GroupConfig defines a throughput control group. All clients configured with the same
// group on the same target resource share the group's throughput.
type GroupConfig struct {
	Name string `yaml:"name" json:"name"`
	// TargetResource identifies the backend resource whose requests the group controls.
	TargetResource string `yaml:"target-resource" json:"target-resource"`
	// TargetThroughput is the absolute throughput shared by the group.
	TargetThroughput *float64 `yaml:"target-throughput" json:"target-throughput"`
	// TargetThroughputThreshold is the fraction of the provisioned throughput of the
	// target resource shared by the group. When both targets are set the smaller wins.
	TargetThroughputThreshold *float64 `yaml:"target-throughput-threshold" json:"target-throughput-threshold"`
	// IsDefault groups control the requests that do not name a group.
	IsDefault bool `yaml:"is-default" json:"is-default"`
	// ContinueOnInitError lets requests bypass the group when it fails to initialize.
	ContinueOnInitError bool `yaml:"continue-on-init-error" json:"continue-on-init-error"`
}

// ID returns the identifier shared by every client of the group.
func (g *GroupConfig) ID() string {
	return g.TargetResource + "/" + g.Name
}

// Validate checks the group definition.
func (g *GroupConfig) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(g.Name, "group name must not be empty")
	}
	if strings.TrimSpace(g.TargetResource) == "" {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(g.Name, "target resource must not be empty")
	}
	if g.TargetThroughput == nil && g.TargetThroughputThreshold == nil {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(g.Name, "target throughput or target throughput threshold is required")
	}
	if g.TargetThroughput != nil && *g.TargetThroughput <= 0 {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(g.Name, fmt.Sprintf("target throughput %v must be positive", *g.TargetThroughput))
	}
	if t := g.TargetThroughputThreshold; t != nil && (*t <= 0 || *t > 1) {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(g.Name, fmt.Sprintf("target throughput threshold %v must be in (0, 1]", *t))
	}
	return nil
}

// WithTargets returns a copy of the group using the given targets.
func (g *GroupConfig) WithTargets(throughput, threshold *float64) *GroupConfig {
	c := *g
	c.TargetThroughput = throughput
	c.TargetThroughputThreshold = threshold
	return &c
}

// GlobalControlConfig configures the coordination of a global group.
type GlobalControlConfig struct {
	RenewInterval  time.Duration `yaml:"renew-interval" json:"renew-interval"`
	ExpireInterval time.Duration `yaml:"expire-interval" json:"expire-interval"`
}

// NewGlobalControlConfig returns the global control config taken from the global configuration.
func NewGlobalControlConfig() *GlobalControlConfig {
	tc := GetGlobalConfig().ThroughputControl
	return &GlobalControlConfig{
		RenewInterval:  tc.ControlItemRenewInterval,
		ExpireInterval: tc.ControlItemExpireInterval,
	}
}

// Validate checks the intervals. A client item must survive at least one missed renewal,
// so the expire interval has to be longer than two renew intervals.
func (c *GlobalControlConfig) Validate() error {
	if c.RenewInterval < MinControlItemRenewInterval {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("renew interval %s is shorter than %s", c.RenewInterval, MinControlItemRenewInterval))
	}
	if min := 2*c.RenewInterval + time.Second; c.ExpireInterval < min {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("expire interval %s is shorter than %s", c.ExpireInterval, min))
	}
	return nil
}
