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

package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/tikv/throughput-control/config"
	"go.uber.org/zap"
)

var initOnce = sync.Once{}

// simConfig is the configuration of one simulation run.
type simConfig struct {
	ConfigFile string

	Clients        int
	Group          string
	Resource       string
	Throughput     float64
	Threshold      float64
	Provisioned    float64
	RequestRate    int
	RequestCharge  float64
	TotalTime      time.Duration
	OutputInterval time.Duration

	Backend   string
	Endpoints []string

	StatusAddr   string
	PushAddr     string
	PushInterval time.Duration

	LogLevel string
	LogFile  string
}

func (c *simConfig) validate() error {
	if c.Clients <= 0 {
		return errors.Errorf("clients must be positive, got %d", c.Clients)
	}
	if c.RequestRate <= 0 || time.Second/time.Duration(c.RequestRate) <= 0 {
		return errors.Errorf("rate must be in [1, %d], got %d", int64(time.Second), c.RequestRate)
	}
	if c.TotalTime <= 0 {
		return errors.Errorf("time must be positive, got %s", c.TotalTime)
	}
	if c.OutputInterval <= 0 {
		return errors.Errorf("interval must be positive, got %s", c.OutputInterval)
	}
	if c.PushAddr != "" && c.PushInterval <= 0 {
		return errors.Errorf("push interval must be positive, got %s", c.PushInterval)
	}
	switch c.Backend {
	case "memory":
	case "etcd", "redis":
		if len(c.Endpoints) == 0 {
			return errors.Errorf("backend %s requires endpoints", c.Backend)
		}
	default:
		return errors.Errorf("unknown backend %s, valid values are { memory | etcd | redis }", c.Backend)
	}
	return nil
}

// groupConfig returns the group every simulated client joins.
func (c *simConfig) groupConfig() *config.GroupConfig {
	g := &config.GroupConfig{Name: c.Group, TargetResource: c.Resource, IsDefault: true}
	if c.Throughput > 0 {
		throughput := c.Throughput
		g.TargetThroughput = &throughput
	}
	if c.Threshold > 0 {
		threshold := c.Threshold
		g.TargetThroughputThreshold = &threshold
	}
	return g
}

// loadGlobalConfig applies the config file and the store flags to the global config.
func (c *simConfig) loadGlobalConfig(cmd *cobra.Command) error {
	conf := config.DefaultConfig()
	if c.ConfigFile != "" {
		loaded, err := config.LoadFromFile(c.ConfigFile)
		if err != nil {
			return err
		}
		conf = *loaded
	}
	if cmd.Flags().Changed("backend") || c.ConfigFile == "" {
		conf.Store.Backend = c.Backend
	}
	if cmd.Flags().Changed("endpoints") {
		conf.Store.Endpoints = c.Endpoints
	}
	c.Backend = conf.Store.Backend
	c.Endpoints = conf.Store.Endpoints
	config.StoreGlobalConfig(&conf)
	return nil
}

func (c *simConfig) Format() string {
	return fmt.Sprintf("Clients: %d, Group: %s/%s, Throughput: %v, Threshold: %v, Provisioned: %v, Rate: %d, Charge: %v, Backend: %s, Endpoints: %s",
		c.Clients, c.Resource, c.Group, c.Throughput, c.Threshold, c.Provisioned, c.RequestRate, c.RequestCharge,
		c.Backend, strings.Join(c.Endpoints, ","))
}

func (c *simConfig) InitLogger() (err error) {
	initOnce.Do(func() {
		conf := &log.Config{
			Level: c.LogLevel,
			File: log.FileLogConfig{
				Filename: c.LogFile,
				MaxSize:  256,
			},
		}
		lg, p, e := log.InitLogger(conf)
		if e != nil {
			err = e
			return
		}
		log.ReplaceGlobals(lg, p)
	})
	return errors.Trace(err)
}

func newRootCommand() *cobra.Command {
	cfg := &simConfig{}
	rootCmd := &cobra.Command{
		Use:   "throughput-sim",
		Short: "Simulate clients sharing the throughput of a global group",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := cfg.InitLogger(); err != nil {
				log.Error("InitLogger failed", zap.Error(err))
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.loadGlobalConfig(cmd); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Format())
			return run(globalContext, cfg, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.ConfigFile, "config", "c", "", "YAML config file")
	flags.IntVarP(&cfg.Clients, "clients", "n", 3, "Number of simulated clients")
	flags.StringVar(&cfg.Group, "group", "sim", "Group name")
	flags.StringVar(&cfg.Resource, "resource", "db/coll", "Target resource of the group")
	flags.Float64Var(&cfg.Throughput, "throughput", 1000, "Target throughput of the group, 0 means unset")
	flags.Float64Var(&cfg.Threshold, "threshold", 0, "Target throughput threshold of the group, 0 means unset")
	flags.Float64Var(&cfg.Provisioned, "provisioned", 10000, "Provisioned throughput of the target resource")
	flags.IntVarP(&cfg.RequestRate, "rate", "r", 100, "Requests sent per second by every client")
	flags.Float64Var(&cfg.RequestCharge, "charge", 1, "Throughput charged per request")
	flags.DurationVar(&cfg.TotalTime, "time", time.Minute, "Total simulation time")
	flags.DurationVar(&cfg.OutputInterval, "interval", 5*time.Second, "Output interval time")
	flags.StringVar(&cfg.Backend, "backend", "memory", "Item store backend { memory | etcd | redis }")
	flags.StringSliceVar(&cfg.Endpoints, "endpoints", nil, "Item store endpoints")
	flags.StringVar(&cfg.StatusAddr, "status-addr", "", "Serve /metrics on this address")
	flags.StringVar(&cfg.PushAddr, "push-addr", "", "Push metrics to this Pushgateway")
	flags.DurationVar(&cfg.PushInterval, "push-interval", 15*time.Second, "Pushgateway push interval")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "filename of the log file, empty means stderr")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "log level { debug | info | warn | error | fatal }")

	rootCmd.SetOut(os.Stdout)
	return rootCmd
}
