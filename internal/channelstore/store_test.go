package channelstore

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/subquery/indexer-query-gateway/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(NewRedisKV(client)), mr
}

func TestStoreGetMissIsExpired(t *testing.T) {
	store, _ := newTestStore(t)
	_, _, err := store.Get(context.Background(), big.NewInt(1))
	if err == nil {
		t.Fatal("expected expired error on miss")
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	channelID := big.NewInt(42)
	state := sampleState()

	if err := store.Put(ctx, KeyName(channelID), state, 3600*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, _, err := store.Get(ctx, channelID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Spent.Cmp(state.Spent) != 0 {
		t.Fatalf("spent mismatch: %s vs %s", got.Spent, state.Spent)
	}
}

func TestReconcileMonotoneMaxMerge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	channelID := big.NewInt(7)
	key := KeyName(channelID)

	cached := &ChannelState{
		Expiration:    time.Now().Add(time.Hour).Unix(),
		Remote:        big.NewInt(120),
		Spent:         big.NewInt(150),
		Coordi:        big.NewInt(100),
		Price:         big.NewInt(1),
		Total:         big.NewInt(1000),
		Signer:        model.ConsumerType{Kind: model.ConsumerAccount, Signers: []common.Address{common.HexToAddress("0x1")}},
	}
	if err := store.Put(ctx, key, cached, time.Hour); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	ev := ChannelEvent{
		ChannelID:  channelID,
		Total:      big.NewInt(1000),
		Price:      big.NewInt(1),
		Remote:     big.NewInt(100),
		Spent:      big.NewInt(90),
		Expiration: time.Now().Add(time.Hour).Unix(),
	}
	resolve := func(ctx context.Context, consumer, agent common.Address) (model.ConsumerType, error) {
		t.Fatal("resolve should not be called when signer is already known")
		return model.ConsumerType{}, nil
	}

	if err := store.Reconcile(ctx, ev, time.Now(), resolve); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, _, err := store.Get(ctx, channelID)
	if err != nil {
		t.Fatalf("get after reconcile: %v", err)
	}
	if got.Remote.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("remote should stay at cached max 120, got %s", got.Remote)
	}
	if got.Spent.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("spent should stay at cached max 150, got %s", got.Spent)
	}
	if got.Coordi.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("coordi should take the event's spent value 90, got %s", got.Coordi)
	}
}

func TestReconcileDeletesOnFinal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	channelID := big.NewInt(9)
	key := KeyName(channelID)

	if err := store.Put(ctx, key, sampleState(), time.Hour); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	ev := ChannelEvent{ChannelID: channelID, IsFinal: true}
	noResolve := func(ctx context.Context, consumer, agent common.Address) (model.ConsumerType, error) {
		return model.ConsumerType{}, nil
	}
	if err := store.Reconcile(ctx, ev, time.Now(), noResolve); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	_, _, err := store.Get(ctx, channelID)
	if err == nil {
		t.Fatal("expected channel to be deleted")
	}
}
