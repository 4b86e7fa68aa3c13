package registry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

func TestReloadEmitsJoinThenLeave(t *testing.T) {
	reg := New(8)

	reg.Reload([]RawDeployment{
		{ID: "dep-1", Endpoints: []RawEndpoint{{Key: endpointKeyQuery, Value: "https://a.example/graphql"}}},
	})

	d, ok := reg.Get("dep-1")
	if !ok {
		t.Fatalf("expected dep-1 present after reload")
	}
	if d.DefaultEndpoint() != "https://a.example/graphql" {
		t.Fatalf("unexpected default endpoint: %+v", d)
	}

	select {
	case ev := <-reg.Events():
		if ev.Kind != EventJoin || ev.DeploymentID != "dep-1" {
			t.Fatalf("unexpected join event: %+v", ev)
		}
	default:
		t.Fatalf("expected a join event")
	}

	// second reload drops dep-1 and adds dep-2
	reg.Reload([]RawDeployment{
		{ID: "dep-2", Endpoints: []RawEndpoint{{Key: endpointKeyQuery, Value: "https://b.example/graphql"}}},
	})

	if _, ok := reg.Get("dep-1"); ok {
		t.Fatalf("expected dep-1 removed")
	}
	if _, ok := reg.Get("dep-2"); !ok {
		t.Fatalf("expected dep-2 present")
	}

	seen := map[EventKind]int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-reg.Events():
			seen[ev.Kind]++
		default:
			t.Fatalf("expected 2 events from the second reload, got %d", i)
		}
	}
	if seen[EventLeave] != 1 || seen[EventJoin] != 1 {
		t.Fatalf("expected one leave and one join, got %+v", seen)
	}
}

func TestMustGetReturnsInvalidProjectID(t *testing.T) {
	reg := New(1)
	if _, err := reg.MustGet("missing"); err == nil {
		t.Fatalf("expected error for unknown deployment")
	}
}

func TestClassifyEndpointsEvmHTTPOverridesKindAndOrder(t *testing.T) {
	kind, endpoints := classifyEndpoints(model.KindSubGraphQL, []RawEndpoint{
		{Key: "ws", Value: "wss://a.example"},
		{Key: endpointKeyEvmHTTP, Value: "https://rpc.example"},
		{Key: "metrics", Value: "https://metrics.example"},
	})
	if kind != model.KindEvmRPC {
		t.Fatalf("expected evmHttp to override declared kind, got %v", kind)
	}
	if len(endpoints) != 3 || endpoints[0].URL != "https://rpc.example" {
		t.Fatalf("expected evmHttp endpoint moved to index 0, got %+v", endpoints)
	}
}

func TestClassifyEndpointsLastSpecialWinsIndexZero(t *testing.T) {
	_, endpoints := classifyEndpoints(model.KindSubGraphQL, []RawEndpoint{
		{Key: endpointKeyQuery, Value: "https://first.example"},
		{Key: "other", Value: "https://middle.example"},
		{Key: endpointKeyQuery, Value: "https://second.example"},
	})
	if endpoints[0].URL != "https://second.example" {
		t.Fatalf("expected the later queryEndpoint at index 0, got %+v", endpoints)
	}
	if endpoints[1].URL != "https://first.example" {
		t.Fatalf("expected the earlier queryEndpoint pushed to index 1, got %+v", endpoints)
	}
}

func TestReloadSkipsDeploymentWithNoEndpoints(t *testing.T) {
	reg := New(4)
	reg.Reload([]RawDeployment{{ID: "empty"}})
	if _, ok := reg.Get("empty"); ok {
		t.Fatalf("expected deployment with no endpoints to be dropped")
	}
}

func TestBuildDeploymentAppliesPaygQuote(t *testing.T) {
	quote := &model.PriceQuote{
		Price:             big.NewInt(1000),
		Token:             common.HexToAddress("0xabc"),
		ExpirationSeconds: 3600,
	}
	item := RawDeployment{
		ID:        "dep-payg",
		Endpoints: []RawEndpoint{{Key: endpointKeyQuery, Value: "https://a.example/graphql"}},
		PaygPrice: quote,
	}
	d, err := buildDeployment(item)
	if err != nil {
		t.Fatalf("build deployment: %v", err)
	}
	if d.PaygPrice.Cmp(big.NewInt(1000)) != 0 || d.PaygExpiration != 3600 {
		t.Fatalf("expected payg fields applied, got %+v", d)
	}
	if d.ID != stateproto.CIDToHash("dep-payg") {
		t.Fatalf("expected id decoded via CIDToHash")
	}
}
