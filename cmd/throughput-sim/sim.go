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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tikv/throughput-control/config"
	"github.com/tikv/throughput-control/controller"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/kv"
	"github.com/tikv/throughput-control/metrics"
	"github.com/tikv/throughput-control/mockstore/memstore"
	"github.com/tikv/throughput-control/store/etcdstore"
	"github.com/tikv/throughput-control/store/redisstore"
	"github.com/tikv/throughput-control/throughput"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var registerOnce sync.Once

type simClient struct {
	index     int
	client    *throughput.Client
	ok        atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

// drive sends requests at the configured rate until ctx is done.
func (c *simClient) drive(ctx context.Context, rate int, charge float64) error {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	request := func(context.Context) (float64, error) {
		return charge, nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := c.client.ProcessRequest(ctx, "", request)
		switch {
		case err == nil:
			c.ok.Inc()
		case tperr.IsErrRequestThrottled(err):
			c.throttled.Inc()
		default:
			c.failed.Inc()
		}
	}
}

func openStore(ctx context.Context, backend string) (kv.ItemStore, func(), error) {
	storeCfg := config.GetGlobalConfig().Store
	switch backend {
	case "memory":
		return memstore.New(), func() {}, nil
	case "etcd":
		s, err := etcdstore.Open(ctx, storeCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		s, err := redisstore.Open(ctx, storeCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, nil, errors.Errorf("unknown backend %s", backend)
}

func serveStatus(ctx context.Context, cfg *simConfig) {
	if cfg.StatusAddr == "" && cfg.PushAddr == "" {
		return
	}
	registerOnce.Do(metrics.RegisterMetrics)
	if cfg.StatusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.StatusAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logutil.BgLogger().Error("status server failed", zap.String("addr", cfg.StatusAddr), zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}
	if cfg.PushAddr != "" {
		instance, _ := os.Hostname()
		go metrics.PushMetrics(ctx, cfg.PushAddr, cfg.PushInterval, "throughput-sim", instance)
	}
}

// run starts cfg.Clients clients in one global group and reports their allocations every
// output interval until the total time elapses or ctx is cancelled.
func run(ctx context.Context, cfg *simConfig, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.TotalTime)
	defer cancel()
	serveStatus(ctx, cfg)

	store, closeStore, err := openStore(ctx, cfg.Backend)
	if err != nil {
		return err
	}
	defer closeStore()

	provisioned := func(context.Context, string) (float64, error) {
		return cfg.Provisioned, nil
	}
	clients := make([]*simClient, 0, cfg.Clients)
	defer func() {
		for _, c := range clients {
			c.client.Close()
		}
	}()
	for i := 0; i < cfg.Clients; i++ {
		client := throughput.NewClient(store,
			throughput.WithPool(controller.NewSpool(4, time.Minute)),
			throughput.WithProvisionedThroughput(provisioned))
		clients = append(clients, &simClient{index: i, client: client})
		if err := client.EnableGlobalGroup(cfg.groupConfig(), nil); err != nil {
			return err
		}
		if err := client.Init(ctx); err != nil {
			return err
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		eg.Go(func() error {
			return c.drive(egCtx, cfg.RequestRate, cfg.RequestCharge)
		})
	}
	eg.Go(func() error {
		ticker := time.NewTicker(cfg.OutputInterval)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-ticker.C:
				report(out, cfg.Group, clients)
			}
		}
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(out, "[Summary]")
	report(out, cfg.Group, clients)
	return nil
}

func report(out io.Writer, group string, clients []*simClient) {
	var total float64
	for _, c := range clients {
		allocated, _ := c.client.AllocatedThroughput(group)
		total += allocated
		fmt.Fprintf(out, "client-%d\tallocated: %.2f\tok: %d\tthrottled: %d\tfailed: %d\n",
			c.index, allocated, c.ok.Load(), c.throttled.Load(), c.failed.Load())
	}
	fmt.Fprintf(out, "total allocated: %.2f\n", total)
}
