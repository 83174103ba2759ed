// Package etcd implements registry.Registry over go.etcd.io/etcd/client/v3,
// grounded on the teacher's use of etcd for service discovery: a lease-backed
// key per NID under a flat prefix, so a down server's entry disappears on
// lease expiry without any other participant needing to detect the failure
// itself.
package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/registry"
)

const keyPrefix = "/playhouse/servers/"

const defaultLeaseTTL = 10 * time.Second

// Registry implements registry.Registry over an etcd client.
type Registry struct {
	client   *clientv3.Client
	leaseTTL time.Duration

	mu      sync.RWMutex
	entries map[string]registry.Entry

	leaseID clientv3.LeaseID
}

// New dials etcd at the given endpoints.
func New(endpoints []string, leaseTTL time.Duration) (*Registry, error) {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{client: cli, leaseTTL: leaseTTL, entries: make(map[string]registry.Entry)}, nil
}

// Register publishes self's directory entry under a lease, renewing it until
// ctx is canceled.
func (r *Registry) Register(ctx context.Context, self registry.Entry) error {
	lease, err := r.client.Grant(ctx, int64(r.leaseTTL.Seconds()))
	if err != nil {
		return err
	}
	r.leaseID = lease.ID

	self.State = "up"
	self.LastSeenAt = time.Now().UnixNano()
	data, err := json.Marshal(self)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, keyPrefix+self.NID, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	keepAlive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range keepAlive {
			// drained to keep the lease alive; no action needed per tick.
		}
	}()
	return nil
}

// Bootstrap loads the current directory snapshot once. It does not start a
// watch; later changes reach the snapshot only through Watch.
// Callers should call this once after New before relying on Resolve.
func (r *Registry) Bootstrap(ctx context.Context) error {
	resp, err := r.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, kv := range resp.Kvs {
		var e registry.Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			continue
		}
		r.entries[nidFromKey(string(kv.Key))] = e
	}
	r.mu.Unlock()
	return nil
}

func nidFromKey(key string) string {
	return strings.TrimPrefix(key, keyPrefix)
}

// Resolve answers whether nid has a live entry right now.
func (r *Registry) Resolve(nid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nid]
	if !ok {
		return "", false
	}
	return e.Endpoint, true
}

// Watch streams directory Put/Delete events, also updating the in-memory
// snapshot Resolve reads from.
func (r *Registry) Watch(ctx context.Context) <-chan registry.Event {
	out := make(chan registry.Event, 64)
	watchCh := r.client.Watch(ctx, keyPrefix, clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range watchCh {
			for _, ev := range resp.Events {
				nid := nidFromKey(string(ev.Kv.Key))
				switch ev.Type {
				case clientv3.EventTypePut:
					var e registry.Entry
					if err := json.Unmarshal(ev.Kv.Value, &e); err != nil {
						logger.Log.Warnf("etcd registry: malformed entry for %s: %v", nid, err)
						continue
					}
					r.mu.Lock()
					r.entries[nid] = e
					r.mu.Unlock()
					select {
					case out <- registry.Event{Type: registry.EventPut, Entry: e}:
					case <-ctx.Done():
						return
					}
				case clientv3.EventTypeDelete:
					r.mu.Lock()
					e, had := r.entries[nid]
					delete(r.entries, nid)
					r.mu.Unlock()
					if !had {
						e = registry.Entry{NID: nid, State: "down"}
					}
					select {
					case out <- registry.Event{Type: registry.EventDelete, Entry: e}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// Close releases the lease (letting it expire naturally if revoke fails) and
// closes the underlying client.
func (r *Registry) Close() error {
	if r.leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			logger.Log.Warnf("etcd registry: failed to revoke lease on close: %v", err)
		}
	}
	return r.client.Close()
}

var _ registry.Registry = (*Registry)(nil)
