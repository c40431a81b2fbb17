package transport

import (
	"fmt"
	"sync"

	"google.golang.org/grpc/resolver"

	"consensus-engine/internal/raft"
)

// raftScheme is the gRPC name-resolver scheme mapping server ids to network
// addresses, so connections are dialed as "raft:///<server-id>".
const raftScheme = "raft"

// addressRegistry is an in-process registry: ServerID -> ServerAddress.
type addressRegistry struct {
	mu       sync.RWMutex
	records  map[raft.ServerID]raft.ServerAddress
	watchers map[raft.ServerID]map[*raftResolver]struct{}
}

var registry = &addressRegistry{
	records:  make(map[raft.ServerID]raft.ServerAddress),
	watchers: make(map[raft.ServerID]map[*raftResolver]struct{}),
}

// RegisterResolverPeer sets or updates the address for a server id and
// notifies any active resolvers watching it.
func RegisterResolverPeer(id raft.ServerID, addr raft.ServerAddress) {
	registry.mu.Lock()
	registry.records[id] = addr
	watchers := registry.watchers[id]
	registry.mu.Unlock()

	// Notify after unlocking to avoid re-entrancy.
	for w := range watchers {
		w.pushCurrent()
	}
}

type raftBuilder struct{}

func (raftBuilder) Scheme() string { return raftScheme }

func (raftBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	// Accept "raft:///ID" or "raft://cluster/ID".
	id := raft.ServerID(target.Endpoint())
	if id == "" {
		// Some versions carry the endpoint in URL.Path when using the triple
		// slash form.
		if p := target.URL.Path; len(p) > 0 {
			if p[0] == '/' {
				p = p[1:]
			}
			id = raft.ServerID(p)
		}
	}
	if id == "" {
		return nil, fmt.Errorf("raft resolver: empty target endpoint: %+v", target)
	}

	r := &raftResolver{id: id, cc: cc}
	r.subscribe()
	r.pushCurrent()
	return r, nil
}

type raftResolver struct {
	id raft.ServerID
	cc resolver.ClientConn
}

func (r *raftResolver) ResolveNow(resolver.ResolveNowOptions) { r.pushCurrent() }

func (r *raftResolver) Close() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if set, ok := registry.watchers[r.id]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(registry.watchers, r.id)
		}
	}
}

func (r *raftResolver) subscribe() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	set := registry.watchers[r.id]
	if set == nil {
		set = make(map[*raftResolver]struct{})
		registry.watchers[r.id] = set
	}
	set[r] = struct{}{}
}

func (r *raftResolver) pushCurrent() {
	registry.mu.RLock()
	addr, ok := registry.records[r.id]
	registry.mu.RUnlock()

	if !ok || addr == "" {
		// No address yet; gRPC will retry.
		_ = r.cc.UpdateState(resolver.State{Addresses: nil})
		return
	}
	_ = r.cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: string(addr)}},
	})
}

func init() {
	resolver.Register(raftBuilder{})
}
