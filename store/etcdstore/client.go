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

package etcdstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tikv/throughput-control/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

// sharedEtcdClient is closed when the last of its refs is released.
type sharedEtcdClient struct {
	cli  *clientv3.Client
	refs int
}

var etcdMutex sync.Mutex
var etcdClients = make(map[string]*sharedEtcdClient)

func getSharedEtcdClient(addrs []string) (*clientv3.Client, error) {
	etcdMutex.Lock()
	defer etcdMutex.Unlock()

	key := addrsToKey(addrs)
	if shared, ok := etcdClients[key]; ok {
		shared.refs++
		return shared.cli, nil
	}

	cfg := config.GetGlobalConfig()
	tlsConfig, err := cfg.Security.ToTLSConfig()
	if err != nil {
		return nil, err
	}
	cli, err := clientv3.New(
		clientv3.Config{
			Endpoints:        addrs,
			AutoSyncInterval: 30 * time.Second,
			DialTimeout:      5 * time.Second,
			TLS:              tlsConfig,
		},
	)
	if err != nil {
		return nil, err
	}
	etcdClients[key] = &sharedEtcdClient{cli: cli, refs: 1}
	return cli, nil
}

// GetEtcdClient returns a client of the etcd cluster at addrs whose keys are put under
// prefix. Clients of the same addresses share one connection, every call takes a ref of it
// that is released by closeSharedEtcdClient.
func GetEtcdClient(addrs []string, prefix string) (EtcdClient, error) {
	cli, err := getSharedEtcdClient(addrs)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return &wrappedEtcdClient{inner: cli, KV: cli.KV, Lease: cli.Lease}, nil
	}
	return &wrappedEtcdClient{
		inner: cli,
		KV:    namespace.NewKV(cli.KV, prefix),
		Lease: namespace.NewLease(cli.Lease, prefix),
	}, nil
}

// closeSharedEtcdClient releases one ref of the shared client of addrs and closes the
// client once no Store uses it.
func closeSharedEtcdClient(addrs []string) error {
	etcdMutex.Lock()
	defer etcdMutex.Unlock()
	key := addrsToKey(addrs)
	shared, ok := etcdClients[key]
	if !ok {
		return nil
	}
	shared.refs--
	if shared.refs > 0 {
		return nil
	}
	delete(etcdClients, key)
	return shared.cli.Close()
}

func addrsToKey(addrs []string) string {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

// EtcdClient is the part of clientv3.Client the store uses.
type EtcdClient interface {
	clientv3.KV
	clientv3.Lease
}

type wrappedEtcdClient struct {
	inner *clientv3.Client

	clientv3.KV
	clientv3.Lease
}
