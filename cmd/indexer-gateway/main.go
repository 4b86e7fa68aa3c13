// Command indexer-gateway runs the indexer-side query gateway: it
// accepts authenticated and PAYG-metered queries on behalf of one
// indexer, forwards them to the deployment's configured endpoint, and
// countersigns every response.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/subquery/indexer-query-gateway/internal/auth"
	"github.com/subquery/indexer-query-gateway/internal/chain"
	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/config"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/gateway"
	"github.com/subquery/indexer-query-gateway/internal/obs"
	"github.com/subquery/indexer-query-gateway/internal/payg"
	"github.com/subquery/indexer-query-gateway/internal/registry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := obs.Configure(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	controller, err := loadController(cfg)
	if err != nil {
		logger.Fatal("failed to load controller key", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisEndpoint)
	if err != nil {
		logger.Fatal("invalid redis endpoint", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	kv := channelstore.NewRedisKV(redisClient)
	store := channelstore.New(kv)

	netCfg := chain.Lookup(cfg.Network)
	rpcEndpoint := cfg.NetworkEndpoint
	if rpcEndpoint == "" {
		rpcEndpoint = netCfg.RPCURL
	}
	ethClient, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		logger.Fatal("failed to dial chain rpc", zap.Error(err))
	}
	chainReader, err := chain.NewEVMReader(ethClient, netCfg.Addresses)
	if err != nil {
		logger.Fatal("failed to build chain reader", zap.Error(err))
	}

	reg := registry.New(64)
	coord := coordinator.New(cfg.CoordinatorEndpoint)
	dispatcher := payg.NewDispatcher(4, 256)
	defer dispatcher.Stop()

	indexer := crypto.PubkeyToAddress(controller.PublicKey)
	engine := payg.NewEngine(store, reg, chainReader, coord, dispatcher, controller,
		indexer, netCfg.Addresses.ConsumerHostContract, netCfg.Addresses.SQTToken)

	limiter := auth.NewLimiter(kv, cfg.TokenDuration)

	app := &gateway.App{
		Registry:           reg,
		Coordinator:        coord,
		Chain:              chainReader,
		Engine:             engine,
		Limiter:            limiter,
		KV:                 kv,
		Controller:         controller,
		ControllerAddress:  indexer,
		Indexer:            indexer,
		ChainID:            netCfg.ChainID,
		JWTSecret:          []byte(cfg.JWTSecret),
		TokenDuration:      cfg.TokenDuration,
		AuthEnabled:        cfg.Auth,
		MetricsToken:       cfg.MetricsToken,
		Upgrader:           websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runProjectSync(ctx, coord, reg)
	go runChannelSync(ctx, coord, store, engine.ResolveConsumerType)

	router := gateway.New(app)
	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("indexer-gateway listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// loadController decrypts the AES-256-GCM-sealed controller key (when
// a secret is configured) and parses it into a signing key.
func loadController(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	hexKey := cfg.ControllerKey
	if cfg.SecretKey != "" && cfg.ControllerKey != "" {
		plain, err := config.DecryptControllerKey(cfg.SecretKey, cfg.ControllerKey)
		if err != nil {
			return nil, err
		}
		hexKey = plain
	}
	return crypto.HexToECDSA(trimHexPrefix(hexKey))
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
