// Store is the etcd-backed exchange point for mapping Documents.
//
// etcd is a distributed key-value store with strong consistency (Raft). A
// server publishes its exported Document under a single key; independently
// built clients fetch or watch that key to load the exact mapping the server
// generated.
//
//	Key:   /muxrpc/mapping/{name}
//	Value: JSON-encoded Document
//
// Publication uses a TTL-based lease: if the publishing server crashes, the
// lease expires and the stale mapping is removed automatically.

package naming

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const mappingPrefix = "/muxrpc/mapping/"

// Store publishes and retrieves mapping Documents via etcd v3.
type Store struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewStore creates a store connected to the given etcd endpoints.
func NewStore(endpoints []string) (*Store, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: c}, nil
}

// NewStoreWithClient wraps an existing etcd client.
func NewStoreWithClient(c *clientv3.Client) *Store {
	return &Store{client: c}
}

// Publish stores the document under the given mapping name with a TTL lease
// and starts background lease renewal, so the entry disappears if the
// publisher dies.
func (s *Store) Publish(ctx context.Context, name string, doc Document, ttl int64) error {
	lease, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	_, err = s.client.Put(ctx, mappingPrefix+name, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive renews the lease until ctx is cancelled or the client closes.
	ch, err := s.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Fetch retrieves the document published under name.
func (s *Store) Fetch(ctx context.Context, name string) (Document, error) {
	resp, err := s.client.Get(ctx, mappingPrefix+name)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("mapping %q not found", name)
	}

	var doc Document
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return nil, fmt.Errorf("mapping %q corrupt: %w", name, err)
	}
	return doc, nil
}

// Watch emits the current document whenever the mapping changes (republish
// or lease expiry). Uses etcd's Watch API (server-push) rather than polling.
func (s *Store) Watch(ctx context.Context, name string) <-chan Document {
	ch := make(chan Document, 1)
	go func() {
		defer close(ch)
		watchChan := s.client.Watch(ctx, mappingPrefix+name)
		for range watchChan {
			// On any change, re-fetch the current document rather than
			// parsing individual watch events.
			doc, err := s.Fetch(ctx, name)
			if err != nil {
				continue
			}
			select {
			case ch <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close releases the underlying etcd client.
func (s *Store) Close() error {
	return s.client.Close()
}
