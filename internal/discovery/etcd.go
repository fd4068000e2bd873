package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xiaot623/gogo/acp/internal/logger"
)

// etcdClient is the part of *clientv3.Client the registrar uses.
type etcdClient interface {
	clientv3.KV
	clientv3.Lease
}

// Etcd registers servers under /acp/servers/<server>/<url> with a leased key.
type Etcd struct {
	cli etcdClient
	ttl int64
	log *logrus.Entry

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	key     string
	stop    context.CancelFunc
}

// NewEtcd connects to an etcd cluster. ttl is the lease time to live.
func NewEtcd(endpoints []string, ttl time.Duration) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 10
	}
	return &Etcd{cli: cli, ttl: seconds, log: logger.WithComponent("discovery")}, nil
}

// Register puts the record under a fresh lease and keeps the lease alive in the background.
func (e *Etcd) Register(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	leaseResp, err := e.cli.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	key := recordKey(rec)
	if _, err := e.cli.Put(ctx, key, string(value), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	kaCtx, stop := context.WithCancel(context.Background())
	keepAliveCh, err := e.cli.KeepAlive(kaCtx, leaseResp.ID)
	if err != nil {
		stop()
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}

	e.mu.Lock()
	e.leaseID = leaseResp.ID
	e.key = key
	e.stop = stop
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-kaCtx.Done():
				return
			case _, ok := <-keepAliveCh:
				if !ok {
					e.log.WithField("key", key).Warn("lease keepalive stopped")
					return
				}
			}
		}
	}()

	e.log.WithFields(logrus.Fields{"key": key, "ttl_s": e.ttl}).Info("server registered")
	return nil
}

// Deregister stops the keepalive and revokes the lease, which removes the key.
func (e *Etcd) Deregister(ctx context.Context) error {
	e.mu.Lock()
	stop, leaseID, key := e.stop, e.leaseID, e.key
	e.stop, e.leaseID, e.key = nil, 0, ""
	e.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	if _, err := e.cli.Revoke(ctx, leaseID); err != nil {
		// The lease still expires on its own after ttl.
		if _, delErr := e.cli.Delete(ctx, key); delErr != nil {
			e.log.WithError(delErr).WithField("key", key).Warn("failed to delete record")
		}
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

// Discover lists the records of a server name, or of every server when server is "".
func (e *Etcd) Discover(ctx context.Context, server string) ([]Record, error) {
	prefix := keyPrefix
	if server != "" {
		prefix += server + "/"
	}
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	var records []Record
	for _, kv := range resp.Kvs {
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			e.log.WithField("key", string(kv.Key)).Warn("skipping malformed record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the etcd client.
func (e *Etcd) Close() error {
	return e.cli.Close()
}
