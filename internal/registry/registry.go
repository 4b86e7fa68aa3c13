// Package registry is the gateway's process-wide index of deployments
// it answers queries for: deployment kind, endpoint list, PAYG pricing
// and expiration, and the optional project-level rate cap. It is
// reloaded wholesale from the coordinator's project list; a reload
// diffs the previous id set against the new one and emits join/leave
// notifications on a channel, matching the teacher's preference for
// reader-writer-locked lookup state (pkg/sdk/org.go, pkg/sdk/service.go)
// over a fully message-passing design for data that is mostly read.
package registry

import (
	"sync"

	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
	"go.uber.org/zap"
)

// EventKind distinguishes a deployment joining or leaving the registry.
type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
)

// Event is emitted once per deployment on every Reload that adds or
// removes it, so an external subscriber (metrics, P2P announce — out of
// core) can react without polling the registry directly.
type Event struct {
	Kind         EventKind
	DeploymentID string
}

// Registry is a process-wide deployment index guarded by a
// reader-writer lock; reads (the hot path, one per query) never block
// each other, and a Reload takes the write lock only for the map swap.
type Registry struct {
	mu          sync.RWMutex
	deployments map[string]model.Deployment

	events chan Event
}

// New returns an empty Registry. eventBuffer sizes the join/leave
// notification channel; a Reload whose diff exceeds the buffer drops
// the events that do not fit rather than blocking, since the channel is
// a best-effort side notification, not the registry's source of truth.
func New(eventBuffer int) *Registry {
	return &Registry{
		deployments: make(map[string]model.Deployment),
		events:      make(chan Event, eventBuffer),
	}
}

// Events returns the join/leave notification channel. Callers should
// range over it in a background goroutine; the registry never closes it.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Get looks up a deployment by the id string it was reloaded under
// (the deployment's CID form).
func (r *Registry) Get(deploymentID string) (model.Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[deploymentID]
	return d, ok
}

// MustGet looks up a deployment, returning the closed-taxonomy
// ErrInvalidProjectID when it is unknown, the error shape every HTTP
// handler expects for an unrecognized :deployment path segment.
func (r *Registry) MustGet(deploymentID string) (model.Deployment, error) {
	d, ok := r.Get(deploymentID)
	if !ok {
		return model.Deployment{}, gwerrors.New(gwerrors.ErrInvalidProjectID, nil)
	}
	return d, nil
}

// List returns a snapshot of all known deployments, in no particular order.
func (r *Registry) List() []model.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Deployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		out = append(out, d)
	}
	return out
}

// RawEndpoint is a single endpoint entry as carried over the
// coordinator's project sync payload, before classification.
type RawEndpoint struct {
	Key   string
	Value string
}

// RawDeployment is one project entry as the coordinator sync reports
// it, before endpoint classification and deployment-id decoding.
type RawDeployment struct {
	ID             string
	DeclaredKind   model.DeploymentKind
	Endpoints      []RawEndpoint
	RateLimit      int64 // <= 0 means no project-level cap
	PaygPrice      *model.PriceQuote
	PaygOverflow   uint64
}

// Reload replaces the registry's contents with items, diffing the
// previous deployment-id set against the new one and pushing one Event
// per added or removed id. Items that fail validation (an empty
// endpoint list) are skipped and logged; an id that is not a valid CID
// is kept with a zero ID hash. This matches the upstream
// sync handler's behavior of dropping a malformed entry rather than
// aborting the whole reload.
func (r *Registry) Reload(items []RawDeployment) {
	next := make(map[string]model.Deployment, len(items))
	for _, item := range items {
		d, err := buildDeployment(item)
		if err != nil {
			zap.L().Error("registry: dropping malformed deployment", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		next[item.ID] = d
	}

	r.mu.Lock()
	previous := r.deployments
	r.deployments = next
	r.mu.Unlock()

	for id := range previous {
		if _, ok := next[id]; !ok {
			r.emit(Event{Kind: EventLeave, DeploymentID: id})
		}
	}
	for id := range next {
		if _, ok := previous[id]; !ok {
			r.emit(Event{Kind: EventJoin, DeploymentID: id})
		}
	}
}

func (r *Registry) emit(e Event) {
	select {
	case r.events <- e:
	default:
		zap.L().Warn("registry: event buffer full, dropping notification",
			zap.Int("kind", int(e.Kind)), zap.String("deploymentId", e.DeploymentID))
	}
}

// classify keys recognized on the wire; queryEndpoint never changes the
// declared kind, evmHttp/substrateHttp override it regardless of what
// the project document claimed.
const (
	endpointKeyEvmHTTP       = "evmHttp"
	endpointKeySubstrateHTTP = "substrateHttp"
	endpointKeyQuery         = "queryEndpoint"
)

// classifyEndpoints walks endpoints in declared order, moving every
// recognized key to the front so the last one encountered ends up at
// index 0 — the same behavior as repeatedly inserting at position 0,
// which is how the upstream sync handler builds its endpoint list.
func classifyEndpoints(declared model.DeploymentKind, endpoints []RawEndpoint) (model.DeploymentKind, []model.Endpoint) {
	kind := declared
	front := make([]model.Endpoint, 0, len(endpoints))
	back := make([]model.Endpoint, 0, len(endpoints))

	for _, e := range endpoints {
		switch e.Key {
		case endpointKeyEvmHTTP:
			kind = model.KindEvmRPC
			front = append([]model.Endpoint{{Name: e.Key, URL: e.Value}}, front...)
		case endpointKeySubstrateHTTP:
			kind = model.KindSubstrateRPC
			front = append([]model.Endpoint{{Name: e.Key, URL: e.Value}}, front...)
		case endpointKeyQuery:
			front = append([]model.Endpoint{{Name: e.Key, URL: e.Value}}, front...)
		default:
			back = append(back, model.Endpoint{Name: e.Key, URL: e.Value})
		}
	}
	return kind, append(front, back...)
}

func buildDeployment(item RawDeployment) (model.Deployment, error) {
	id := stateproto.CIDToHash(item.ID)

	kind, endpoints := classifyEndpoints(item.DeclaredKind, item.Endpoints)
	if len(endpoints) == 0 {
		return model.Deployment{}, gwerrors.New(gwerrors.ErrInvalidServiceEndpoint, nil)
	}

	rateCap := 0
	if item.RateLimit > 0 {
		rateCap = int(item.RateLimit)
	}

	d := model.Deployment{
		ID:            id,
		Kind:          kind,
		Endpoints:     endpoints,
		RateCapPerSec: rateCap,
		PaygOverflow:  item.PaygOverflow,
	}
	if item.PaygPrice != nil {
		d.PaygPrice = item.PaygPrice.Price
		d.PaygToken = item.PaygPrice.Token
		d.PaygExpiration = item.PaygPrice.ExpirationSeconds
	}
	return d, nil
}
