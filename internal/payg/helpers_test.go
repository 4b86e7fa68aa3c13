package payg

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/subquery/indexer-query-gateway/internal/chain"
	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/registry"
)

// fakeCoordinator is an in-memory coordinator.Client for tests: it
// records every mutation call and serves ChannelSpent from a
// preloaded map, avoiding any network round trip. The four sync
// queries internal/payg never calls return zero values.
type fakeCoordinator struct {
	mu sync.Mutex

	spent map[string]*big.Int

	updates []channelUpdateCall
	extends []channelExtendCall
}

type channelUpdateCall struct {
	ID                        *big.Int
	Spent                     *big.Int
	IsFinal                   bool
	IndexerSign, ConsumerSign string
}

type channelExtendCall struct {
	ID        *big.Int
	ExpiredAt int64
	Price     *big.Int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{spent: make(map[string]*big.Int)}
}

func (f *fakeCoordinator) AccountMetadata(ctx context.Context) (*coordinator.AccountMetadata, error) {
	return &coordinator.AccountMetadata{}, nil
}

func (f *fakeCoordinator) ServicesVersion(ctx context.Context) (*coordinator.ServicesVersion, error) {
	return &coordinator.ServicesVersion{}, nil
}

func (f *fakeCoordinator) AliveProjects(ctx context.Context) ([]coordinator.AliveProject, error) {
	return nil, nil
}

func (f *fakeCoordinator) AlivePaygs(ctx context.Context) ([]coordinator.AlivePayg, error) {
	return nil, nil
}

func (f *fakeCoordinator) AliveChannels(ctx context.Context) ([]coordinator.AliveChannel, error) {
	return nil, nil
}

func (f *fakeCoordinator) ChannelUpdate(ctx context.Context, id *big.Int, spent *big.Int, isFinal bool, indexerSign, consumerSign string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, channelUpdateCall{ID: id, Spent: spent, IsFinal: isFinal, IndexerSign: indexerSign, ConsumerSign: consumerSign})
	return nil
}

func (f *fakeCoordinator) ChannelExtend(ctx context.Context, id *big.Int, expiredAt int64, price *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends = append(f.extends, channelExtendCall{ID: id, ExpiredAt: expiredAt, Price: price})
	return nil
}

func (f *fakeCoordinator) ChannelSpent(ctx context.Context, id *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.spent[id.String()]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeCoordinator) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeCoordinator) lastUpdate() channelUpdateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

var _ coordinator.Client = (*fakeCoordinator)(nil)

func newTestStore(t *testing.T) *channelstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return channelstore.New(channelstore.NewRedisKV(client))
}

// testEngine bundles an Engine with the fakes backing it, so tests can
// assert on coordinator calls or registry membership without
// re-deriving them.
type testEngine struct {
	*Engine
	Coord        *fakeCoordinator
	Chain        *chain.Stub
	Registry     *registry.Registry
	Indexer      common.Address
	Consumer     *ecdsa.PrivateKey
	ConsumerAddr common.Address
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := newTestStore(t)
	reg := registry.New(8)
	stub := chain.NewStub()
	coord := newFakeCoordinator()
	dispatcher := NewDispatcher(1, 8)
	t.Cleanup(dispatcher.Stop)

	controllerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate controller key: %v", err)
	}
	consumerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate consumer key: %v", err)
	}
	indexer := common.HexToAddress("0xAAAA111111111111111111111111111111111A")
	hostContract := common.HexToAddress("0xB0B0000000000000000000000000000000000B")
	sqtToken := common.HexToAddress("0xC0C0000000000000000000000000000000000C")

	engine := NewEngine(store, reg, stub, coord, dispatcher, controllerKey, indexer, hostContract, sqtToken)

	return &testEngine{
		Engine:       engine,
		Coord:        coord,
		Chain:        stub,
		Registry:     reg,
		Indexer:      indexer,
		Consumer:     consumerKey,
		ConsumerAddr: crypto.PubkeyToAddress(consumerKey.PublicKey),
	}
}

func waitForDispatch() { time.Sleep(50 * time.Millisecond) }

func generateTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func addressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
