package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/subquery/indexer-query-gateway/internal/chain"
	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/payg"
	"github.com/subquery/indexer-query-gateway/internal/registry"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// noopCoordinator answers every coordinator.Client call with a zero
// value, enough to exercise the payg.Engine paths these tests drive
// without a real coordinator.
type noopCoordinator struct{}

func (noopCoordinator) AccountMetadata(ctx context.Context) (*coordinator.AccountMetadata, error) {
	return &coordinator.AccountMetadata{}, nil
}
func (noopCoordinator) ServicesVersion(ctx context.Context) (*coordinator.ServicesVersion, error) {
	return &coordinator.ServicesVersion{}, nil
}
func (noopCoordinator) AliveProjects(ctx context.Context) ([]coordinator.AliveProject, error) {
	return nil, nil
}
func (noopCoordinator) AlivePaygs(ctx context.Context) ([]coordinator.AlivePayg, error) {
	return nil, nil
}
func (noopCoordinator) AliveChannels(ctx context.Context) ([]coordinator.AliveChannel, error) {
	return nil, nil
}
func (noopCoordinator) ChannelUpdate(ctx context.Context, id *big.Int, spent *big.Int, isFinal bool, indexerSign, consumerSign string) error {
	return nil
}
func (noopCoordinator) ChannelExtend(ctx context.Context, id *big.Int, expiredAt int64, price *big.Int) error {
	return nil
}
func (noopCoordinator) ChannelSpent(ctx context.Context, id *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func init() { gin.SetMode(gin.TestMode) }

func newTestApp(t *testing.T) (*App, *registry.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := channelstore.NewRedisKV(client)

	controllerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	indexer := crypto.PubkeyToAddress(controllerKey.PublicKey)
	reg := registry.New(8)
	store := channelstore.New(kv)
	dispatcher := payg.NewDispatcher(2, 16)
	t.Cleanup(dispatcher.Stop)
	engine := payg.NewEngine(store, reg, chain.NewStub(), noopCoordinator{}, dispatcher, controllerKey, indexer, common.Address{}, common.Address{})

	app := &App{
		Registry:          reg,
		Engine:            engine,
		KV:                kv,
		Controller:        controllerKey,
		ControllerAddress: indexer,
		Indexer:           indexer,
		JWTSecret:         []byte("test-secret"),
		TokenDuration:     time.Hour,
		HTTPClient:        http.DefaultClient,
	}
	return app, reg
}

// seedPaygChannel writes a channel state directly into the store,
// bypassing OpenChannel, for tests that exercise payg_query against an
// already-open channel.
func seedPaygChannel(t *testing.T, app *App, channelID *big.Int, consumer common.Address, deployment common.Hash, total, price, spent, remote int64) {
	t.Helper()
	state := &channelstore.ChannelState{
		Expiration: time.Now().Unix() + 3600,
		Agent:      consumer,
		Deployment: deployment,
		Price:      big.NewInt(price),
		Total:      big.NewInt(total),
		Spent:      big.NewInt(spent),
		Remote:     big.NewInt(remote),
		Coordi:     big.NewInt(0),
		Signer:     model.ConsumerType{Kind: model.ConsumerAccount, Signers: []common.Address{consumer}},
	}
	key := channelstore.KeyName(channelID)
	if err := app.Engine.Store.Put(context.Background(), key, state, 3600*time.Second); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
}

func registerDeployment(t *testing.T, reg *registry.Registry, endpoint string, price *int64, rateCap int64) string {
	t.Helper()
	var hash common.Hash
	hash[0] = 0x01
	id := stateproto.HashToCID(hash)
	if id == "" {
		t.Fatal("failed to build a test CID")
	}

	item := registry.RawDeployment{
		ID:           id,
		DeclaredKind: model.KindSubGraphQL,
		Endpoints:    []registry.RawEndpoint{{Key: "queryEndpoint", Value: endpoint}},
		RateLimit:    rateCap,
	}
	if price != nil {
		item.PaygPrice = &model.PriceQuote{Price: big.NewInt(*price), ExpirationSeconds: 3600}
	}
	reg.Reload([]registry.RawDeployment{item})
	return id
}

func TestHandleHealthy(t *testing.T) {
	app, _ := newTestApp(t)
	router := New(app)

	req := httptest.NewRequest(http.MethodGet, "/healthy", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["up"] != true {
		t.Fatalf("expected up=true, got %v", body)
	}
	if body["indexer"] != app.Indexer.Hex() {
		t.Fatalf("expected indexer %s, got %v", app.Indexer.Hex(), body["indexer"])
	}
}

func TestHandleMetadataUnknownDeployment(t *testing.T) {
	app, _ := newTestApp(t)
	router := New(app)

	req := httptest.NewRequest(http.MethodGet, "/metadata/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("expected a non-200 for an unknown deployment, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleMetadataKnownDeployment(t *testing.T) {
	app, reg := newTestApp(t)
	price := int64(100)
	id := registerDeployment(t, reg, "http://upstream.example/query", &price, 0)
	router := New(app)

	req := httptest.NewRequest(http.MethodGet, "/metadata/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["paygPrice"] != "100" {
		t.Fatalf("expected paygPrice 100, got %v", body)
	}
}

func TestHandlePaygPriceSignsEachDeployment(t *testing.T) {
	app, reg := newTestApp(t)
	price := int64(42)
	registerDeployment(t, reg, "http://upstream.example/query", &price, 0)
	router := New(app)

	req := httptest.NewRequest(http.MethodGet, "/payg-price", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Indexer     string          `json:"indexer"`
		Deployments [][]interface{} `json:"deployments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Deployments) != 1 {
		t.Fatalf("expected exactly one priced deployment, got %d", len(body.Deployments))
	}
	if body.Deployments[0][1] != "42" {
		t.Fatalf("expected price '42', got %v", body.Deployments[0][1])
	}
}

func TestHandleQueryForwardsAndSigns(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer upstream.Close()

	app, reg := newTestApp(t)
	id := registerDeployment(t, reg, upstream.URL, nil, 0)
	router := New(app)

	req := httptest.NewRequest(http.MethodPost, "/query/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"data":{"ok":true}}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(headerIndexerSig) == "" {
		t.Fatal("expected an X-Indexer-Sig header on the response")
	}
}

func TestHandlePaygQuerySingleUpstreamFailureLeavesCacheUnchanged(t *testing.T) {
	// A server that is immediately closed: forwardQuery's HTTPClient.Do
	// fails at the transport level, the same class of failure a
	// genuine upstream outage produces.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	app, reg := newTestApp(t)
	id := registerDeployment(t, reg, dead.URL, nil, 0)

	consumerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate consumer key: %v", err)
	}
	consumerAddr := crypto.PubkeyToAddress(consumerKey.PublicKey)

	channelID := big.NewInt(1)
	depHash := stateproto.CIDToHash(id)
	seedPaygChannel(t, app, channelID, consumerAddr, depHash, 1000, 10, 100, 100)

	state := &stateproto.QueryState{
		ChannelID: channelID,
		Indexer:   app.Indexer,
		Consumer:  consumerAddr,
		Spent:     big.NewInt(110),
	}
	if err := state.Sign(consumerKey, true); err != nil {
		t.Fatalf("consumer sign: %v", err)
	}

	router := New(app)
	req := httptest.NewRequest(http.MethodPost, "/payg/"+id, bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", state.ToBase64())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("expected the upstream failure to propagate as an error, got 200: %s", w.Body.String())
	}

	cached, _, err := app.Engine.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get after failed query: %v", err)
	}
	if cached.Spent.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("a failed upstream forward must not advance spent, got %s", cached.Spent)
	}
	if cached.Remote.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("a failed upstream forward must not advance remote, got %s", cached.Remote)
	}
}

func TestHandlePaygQueryMultipleRangeExhaustedSkipsUpstreamAndDoesNotBill(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer upstream.Close()

	app, reg := newTestApp(t)
	id := registerDeployment(t, reg, upstream.URL, nil, 0)

	consumerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate consumer key: %v", err)
	}
	consumerAddr := crypto.PubkeyToAddress(consumerKey.PublicKey)

	channelID := big.NewInt(2)
	depHash := stateproto.CIDToHash(id)
	// spent=101 with range [0,100]: local_next > end(100) -> Inactive2.
	seedPaygChannel(t, app, channelID, consumerAddr, depHash, 1000, 1, 101, 101)

	state := &stateproto.MultipleQueryState{ChannelID: channelID, Start: big.NewInt(0), End: big.NewInt(100)}
	if err := state.SignAs(consumerKey, stateproto.Active); err != nil {
		t.Fatalf("sign: %v", err)
	}

	router := New(app)
	req := httptest.NewRequest(http.MethodPost, "/payg/"+id, bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", state.ToBase64())
	req.Header.Set(headerChannelBlock, "multiple")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a range-exhausted reply, got %d: %s", w.Code, w.Body.String())
	}
	if calls != 0 {
		t.Fatalf("a range-exhausted query must never reach upstream, got %d calls", calls)
	}

	cached, _, err := app.Engine.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get after range-exhausted query: %v", err)
	}
	if cached.Spent.Cmp(big.NewInt(101)) != 0 {
		t.Fatalf("a range-exhausted query must not bill, got spent %s", cached.Spent)
	}
}

func TestHandleQueryRejectsUnknownDeployment(t *testing.T) {
	app, _ := newTestApp(t)
	router := New(app)

	req := httptest.NewRequest(http.MethodPost, "/query/unknown-deployment", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("expected a non-200 for an unknown deployment, got %d", w.Code)
	}
}

func TestHandleTokenIndexerSelfIssue(t *testing.T) {
	app, reg := newTestApp(t)
	id := registerDeployment(t, reg, "http://upstream.example/query", nil, 0)
	router := New(app)

	now := time.Now()
	timestampMs := now.UnixMilli()
	chainID := int64(1)

	digest, err := stateproto.IndexerTokenDigest(app.Indexer, timestampMs, id, chainID)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	rawSig, err := crypto.Sign(digest[:], app.Controller)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rawSig[64] += 27
	sig := stateproto.SignatureFromHex("0x" + common.Bytes2Hex(rawSig))

	payload := tokenPayload{
		Indexer:      app.Indexer.Hex(),
		DeploymentID: id,
		Signature:    sig.HexString(),
		TimestampMs:  timestampMs,
		ChainID:      chainID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestHandleMetricsRequiresBearerToken(t *testing.T) {
	app, _ := newTestApp(t)
	app.MetricsToken = "expected-token"
	router := New(app)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Fatal("expected metrics to be gated without a bearer token")
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer expected-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct bearer token, got %d", w.Code)
	}
}
