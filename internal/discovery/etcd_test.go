package discovery

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xiaot623/gogo/acp/internal/logger"
)

// fakeEtcd implements the calls the registrar makes. Anything else panics on the nil embeds.
type fakeEtcd struct {
	clientv3.KV
	clientv3.Lease

	revokeErr error
	deleteErr error
	deleted   []string
}

func (f *fakeEtcd) Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	return &clientv3.LeaseGrantResponse{ID: 7, TTL: ttl}, nil
}

func (f *fakeEtcd) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	return make(chan *clientv3.LeaseKeepAliveResponse), nil
}

func (f *fakeEtcd) Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	if f.revokeErr != nil {
		return nil, f.revokeErr
	}
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (f *fakeEtcd) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &clientv3.DeleteResponse{}, nil
}

func TestEtcdDeregisterRevokes(t *testing.T) {
	fake := &fakeEtcd{}
	e := &Etcd{cli: fake, ttl: 10, log: logger.WithComponent("discovery")}
	ctx := context.Background()

	require.NoError(t, e.Register(ctx, Record{Server: "acp", URL: "http://a:8000"}))
	require.NoError(t, e.Deregister(ctx))
	assert.Empty(t, fake.deleted)

	// A second deregister is a no-op.
	require.NoError(t, e.Deregister(ctx))
}

func TestEtcdDeregisterFallbackLogsDeleteFailure(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput("info", "json", &buf)
	t.Cleanup(func() { logger.InitWithOutput("info", "text", &bytes.Buffer{}) })

	fake := &fakeEtcd{revokeErr: errors.New("revoke refused"), deleteErr: errors.New("delete refused")}
	e := &Etcd{cli: fake, ttl: 10, log: logger.WithComponent("discovery")}
	ctx := context.Background()

	require.NoError(t, e.Register(ctx, Record{Server: "acp", URL: "http://a:8000"}))
	err := e.Deregister(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revoke refused")

	assert.Equal(t, []string{"/acp/servers/acp/http://a:8000"}, fake.deleted)
	assert.Contains(t, buf.String(), "failed to delete record")
	assert.Contains(t, buf.String(), "delete refused")
}
