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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	tperr "github.com/tikv/throughput-control/error"
	"gopkg.in/yaml.v3"
)

// Security is SSL configuration.
type Security struct {
	SSLCA   string `yaml:"ssl-ca" json:"ssl-ca"`
	SSLCert string `yaml:"ssl-cert" json:"ssl-cert"`
	SSLKey  string `yaml:"ssl-key" json:"ssl-key"`
}

// ToTLSConfig generates tls's config based on security section of the config.
func (s *Security) ToTLSConfig() (*tls.Config, error) {
	var tlsConfig *tls.Config
	if len(s.SSLCA) != 0 {
		var certificates = make([]tls.Certificate, 0)
		if len(s.SSLCert) != 0 && len(s.SSLKey) != 0 {
			// Load the client certificates from disk
			certificate, err := tls.LoadX509KeyPair(s.SSLCert, s.SSLKey)
			if err != nil {
				return nil, errors.Errorf("could not load client key pair: %s", err)
			}
			certificates = append(certificates, certificate)
		}

		// Create a certificate pool from the certificate authority
		certPool := x509.NewCertPool()
		ca, err := os.ReadFile(s.SSLCA)
		if err != nil {
			return nil, errors.Errorf("could not read ca certificate: %s", err)
		}

		// Append the certificates from the CA
		if !certPool.AppendCertsFromPEM(ca) {
			return nil, errors.New("failed to append ca certs")
		}

		tlsConfig = &tls.Config{
			Certificates: certificates,
			RootCAs:      certPool,
		}
	}

	return tlsConfig, nil
}

// ThroughputControl is the configuration of the control loops.
type ThroughputControl struct {
	// ControlItemRenewInterval is how often a client republishes its load factor and
	// renegotiates its share.
	ControlItemRenewInterval time.Duration `yaml:"control-item-renew-interval" json:"control-item-renew-interval"`
	// ControlItemExpireInterval is the TTL of client usage items. A client that misses
	// renewals for this long drops out of its peers' negotiation.
	ControlItemExpireInterval time.Duration `yaml:"control-item-expire-interval" json:"control-item-expire-interval"`
	// UsageCycleInterval is the length of one request budget cycle, each cycle records one
	// usage sample.
	UsageCycleInterval time.Duration `yaml:"usage-cycle-interval" json:"usage-cycle-interval"`
	LoadWindowCapacity int           `yaml:"load-window-capacity" json:"load-window-capacity"`
	MinLoadFactor      float64       `yaml:"min-load-factor" json:"min-load-factor"`
	// ConfigItemMaxAttempts bounds the read/create attempts of the shared config item.
	ConfigItemMaxAttempts int           `yaml:"config-item-max-attempts" json:"config-item-max-attempts"`
	StoreOpTimeout        time.Duration `yaml:"store-op-timeout" json:"store-op-timeout"`
}

// DefaultThroughputControl returns the default control loop configuration.
func DefaultThroughputControl() ThroughputControl {
	return ThroughputControl{
		ControlItemRenewInterval:  DefaultControlItemRenewInterval,
		ControlItemExpireInterval: DefaultControlItemExpireInterval,
		UsageCycleInterval:        time.Second,
		LoadWindowCapacity:        300,
		MinLoadFactor:             0.1,
		ConfigItemMaxAttempts:     10,
		StoreOpTimeout:            5 * time.Second,
	}
}

// Validate checks the control loop options. The load factor floor must be positive so that
// the share of a client stays well-defined when it recorded no usage.
func (c *ThroughputControl) Validate() error {
	if !(c.MinLoadFactor > 0) || math.IsInf(c.MinLoadFactor, 1) {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("min load factor %v must be a positive number", c.MinLoadFactor))
	}
	if c.LoadWindowCapacity <= 0 {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("load window capacity %d must be positive", c.LoadWindowCapacity))
	}
	if c.UsageCycleInterval <= 0 {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("usage cycle interval %s must be positive", c.UsageCycleInterval))
	}
	if c.ConfigItemMaxAttempts <= 0 {
		return tperr.ErrInvalidControlConfig.GenWithStackByArgs(
			fmt.Sprintf("config item max attempts %d must be positive", c.ConfigItemMaxAttempts))
	}
	return nil
}

// Store is the configuration of the shared item store used by the command line tools.
type Store struct {
	// Backend is one of "memory", "etcd" and "redis".
	Backend   string   `yaml:"backend" json:"backend"`
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
	Container string   `yaml:"container" json:"container"`
	Prefix    string   `yaml:"prefix" json:"prefix"`
}

// Config contains configuration options.
type Config struct {
	ThroughputControl ThroughputControl `yaml:"throughput-control" json:"throughput-control"`
	Store             Store             `yaml:"store" json:"store"`
	Security          Security          `yaml:"security" json:"security"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ThroughputControl: DefaultThroughputControl(),
		Store: Store{
			Backend:   "memory",
			Container: "throughput-control",
			Prefix:    "/throughput-control",
		},
	}
}

var globalConf atomic.Pointer[Config]

func init() {
	conf := DefaultConfig()
	StoreGlobalConfig(&conf)
}

// GetGlobalConfig returns the global configuration for this package.
// It should store configuration from command line and configuration file.
// Other parts of the system can read the global configuration use this function.
func GetGlobalConfig() *Config {
	return globalConf.Load()
}

// StoreGlobalConfig stores a new config to the globalConf. It mostly uses in the test to avoid some data races.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// UpdateGlobal updates the global config, and provide a restore function that can be used to restore to the original.
func UpdateGlobal(f func(conf *Config)) func() {
	g := GetGlobalConfig()
	restore := func() {
		StoreGlobalConfig(g)
	}
	newConf := *g
	f(&newConf)
	StoreGlobalConfig(&newConf)
	return restore
}

// LoadFromFile reads a YAML configuration file. Options missing from the file keep their
// default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	conf := DefaultConfig()
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	if err := conf.ThroughputControl.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
