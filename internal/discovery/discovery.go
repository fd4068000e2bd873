// Package discovery announces ACP servers to a registry and finds them again.
package discovery

import (
	"context"
	"sort"
	"sync"
)

// Record describes one running ACP server.
type Record struct {
	Server string   `json:"server"`
	URL    string   `json:"url"`
	Agents []string `json:"agents"`
}

// Registrar keeps a server's record alive for as long as it serves.
type Registrar interface {
	Register(ctx context.Context, rec Record) error
	Deregister(ctx context.Context) error
	Discover(ctx context.Context, server string) ([]Record, error)
	Close() error
}

// MemoryRegistrar is an in-process Registrar, used when no etcd cluster is configured.
type MemoryRegistrar struct {
	mu      sync.Mutex
	records map[string]Record
	current string
}

// NewMemoryRegistrar creates an empty in-process registrar.
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{records: make(map[string]Record)}
}

func (m *MemoryRegistrar) Register(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(rec)
	m.records[key] = rec
	m.current = key
	return nil
}

func (m *MemoryRegistrar) Deregister(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, m.current)
	m.current = ""
	return nil
}

func (m *MemoryRegistrar) Discover(_ context.Context, server string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if server == "" || rec.Server == server {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *MemoryRegistrar) Close() error { return nil }

func recordKey(rec Record) string {
	return keyPrefix + rec.Server + "/" + rec.URL
}

const keyPrefix = "/acp/servers/"
