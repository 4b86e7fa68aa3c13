package payg

import (
	"context"
	"math/big"
	"testing"

	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

func TestExtendChannelAcceptsMatchingPriceAndExpiration(t *testing.T) {
	te := newTestEngine(t)
	channelID := big.NewInt(201)
	deployment := seedOpenDeployment(t, te, 10, 86400)
	seedChannel(t, te, channelID, deployment, 1000, 10, 0, 0)

	cached, _, err := te.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get seeded channel: %v", err)
	}

	preexpiration := big.NewInt(cached.Expiration)
	expirationSeconds := big.NewInt(3600)
	sig, err := stateproto.SignExtend(channelID, te.Indexer, te.ConsumerAddr, preexpiration, expirationSeconds, te.Consumer)
	if err != nil {
		t.Fatalf("sign extend: %v", err)
	}

	indexerSig, err := te.ExtendChannel(context.Background(), channelID, big.NewInt(10), cached.Expiration, 3600, sig)
	if err != nil {
		t.Fatalf("extend channel: %v", err)
	}
	if indexerSig == stateproto.ZeroSignature {
		t.Fatal("expected a non-zero indexer countersignature")
	}
	if te.Coord.extends[0].ID.Cmp(channelID) != 0 {
		t.Fatalf("expected coordinator extend for channel %s, got %s", channelID, te.Coord.extends[0].ID)
	}
}

func TestExtendChannelRejectsPriceBelowConvertedMinimum(t *testing.T) {
	te := newTestEngine(t)
	channelID := big.NewInt(202)
	deployment := seedOpenDeployment(t, te, 100, 86400)
	seedChannel(t, te, channelID, deployment, 1000, 10, 0, 0)

	cached, _, err := te.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get seeded channel: %v", err)
	}

	preexpiration := big.NewInt(cached.Expiration)
	expirationSeconds := big.NewInt(3600)
	sig, err := stateproto.SignExtend(channelID, te.Indexer, te.ConsumerAddr, preexpiration, expirationSeconds, te.Consumer)
	if err != nil {
		t.Fatalf("sign extend: %v", err)
	}

	_, err = te.ExtendChannel(context.Background(), channelID, big.NewInt(10), cached.Expiration, 3600, sig)
	assertGatewayCode(t, err, gwerrors.ErrInvalidExtendPrice.Code)
}

func TestExtendChannelRejectsExpirationDrift(t *testing.T) {
	te := newTestEngine(t)
	channelID := big.NewInt(203)
	deployment := seedOpenDeployment(t, te, 10, 86400)
	seedChannel(t, te, channelID, deployment, 1000, 10, 0, 0)

	cached, _, err := te.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get seeded channel: %v", err)
	}

	claimedExpired := cached.Expiration + 1000 // beyond the 600s drift tolerance
	preexpiration := big.NewInt(claimedExpired)
	expirationSeconds := big.NewInt(3600)
	sig, err := stateproto.SignExtend(channelID, te.Indexer, te.ConsumerAddr, preexpiration, expirationSeconds, te.Consumer)
	if err != nil {
		t.Fatalf("sign extend: %v", err)
	}

	_, err = te.ExtendChannel(context.Background(), channelID, big.NewInt(10), claimedExpired, 3600, sig)
	assertGatewayCode(t, err, gwerrors.ErrInvalidExtendPrice.Code)
}

func TestExtendChannelRejectsUnknownSigner(t *testing.T) {
	te := newTestEngine(t)
	channelID := big.NewInt(204)
	deployment := seedOpenDeployment(t, te, 10, 86400)
	seedChannel(t, te, channelID, deployment, 1000, 10, 0, 0)

	cached, _, err := te.Store.Get(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get seeded channel: %v", err)
	}

	stranger := generateTestKey(t)
	preexpiration := big.NewInt(cached.Expiration)
	expirationSeconds := big.NewInt(3600)
	sig, err := stateproto.SignExtend(channelID, te.Indexer, te.ConsumerAddr, preexpiration, expirationSeconds, stranger)
	if err != nil {
		t.Fatalf("sign extend: %v", err)
	}

	_, err = te.ExtendChannel(context.Background(), channelID, big.NewInt(10), cached.Expiration, 3600, sig)
	assertGatewayCode(t, err, gwerrors.ErrInvalidMembership.Code)
}
