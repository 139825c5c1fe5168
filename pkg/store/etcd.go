package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// EtcdStore creates keys in a transaction guarded on CreateRevision == 0 and
// attaches them to a lease granted for the ttl.
type EtcdStore struct {
	client *clientv3.Client
	logger hclog.Logger
}

func NewEtcd(cfg EtcdConfig, logger hclog.Logger) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd store: at least one endpoint is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd store: %w", err)
	}
	return NewEtcdFromClient(client, logger), nil
}

func NewEtcdFromClient(client *clientv3.Client, logger hclog.Logger) *EtcdStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EtcdStore{client: client, logger: logger}
}

// etcd leases have second granularity, round up so a lease never ends early
func leaseSeconds(ttl time.Duration) int64 {
	return int64(math.Ceil(ttl.Seconds()))
}

func (e *EtcdStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var opts []clientv3.OpOption
	var leaseID clientv3.LeaseID
	if ttl > 0 {
		lease, err := e.client.Grant(ctx, leaseSeconds(ttl))
		if err != nil {
			return false, fmt.Errorf("grant lease: %w", err)
		}
		leaseID = lease.ID
		opts = append(opts, clientv3.WithLease(leaseID))
	}

	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, opts...)).
		Commit()
	if err != nil {
		return false, err
	}

	if !resp.Succeeded && leaseID != 0 {
		if _, err := e.client.Revoke(ctx, leaseID); err != nil {
			e.logger.Warn("failed to revoke unused lease", "lease", int64(leaseID), "error", err)
		}
	}
	return resp.Succeeded, nil
}

func (e *EtcdStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", expected)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (e *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}
