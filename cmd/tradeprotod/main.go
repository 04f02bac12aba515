package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2p-escrow/trade-daemon/internal/config"
	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/application/trade"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	p2pwebsocket "github.com/p2p-escrow/trade-daemon/internal/infrastructure/p2p/websocket"
	dbbadger "github.com/p2p-escrow/trade-daemon/internal/infrastructure/storage/db/badger"
	"github.com/p2p-escrow/trade-daemon/internal/infrastructure/storage/db/inmemory"
	"github.com/p2p-escrow/trade-daemon/internal/infrastructure/wallet/btcwallet"
	"github.com/p2p-escrow/trade-daemon/pkg/crawler"
	"github.com/p2p-escrow/trade-daemon/pkg/explorer/esplora"
	"github.com/p2p-escrow/trade-daemon/pkg/stats"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sync/errgroup"
)

const explorerRequestTimeout = 15 * time.Second

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize daemon")
	}

	if err := d.start(ctx); err != nil {
		d.stop()
		log.WithError(err).Fatal("failed to start daemon")
	}

	log.Infof("trade daemon started, reachable at %s", d.p2pSvc.Address())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	<-sigChan

	log.Info("shutting down daemon")
	cancel()
	d.stop()
	log.Info("exiting")
}

type daemon struct {
	repoManager ports.RepoManager
	p2pStore    *badgerhold.Store
	p2pSvc      *p2pwebsocket.Service
	listener    *trade.BlockchainListener
	tradeSvc    *trade.Service
	metrics     *http.Server
	group       *errgroup.Group
}

func newDaemon() (*daemon, error) {
	datadir := config.GetDatadir()
	network := config.GetNetwork()
	inMemory := config.GetString(config.DBTypeKey) == config.DBInMemory

	dbLogger := log.New()
	dbLogger.SetLevel(log.WarnLevel)

	var (
		repoManager ports.RepoManager
		p2pDbDir    string
		err         error
	)
	if inMemory {
		repoManager = inmemory.NewRepoManager()
	} else {
		dbDir := filepath.Join(datadir, config.DbLocation)
		if repoManager, err = dbbadger.NewRepoManager(dbDir, dbLogger); err != nil {
			return nil, err
		}
		p2pDbDir = filepath.Join(datadir, config.P2PLocation)
	}

	p2pStore, err := dbbadger.CreateDb(p2pDbDir, dbLogger)
	if err != nil {
		repoManager.Close()
		return nil, fmt.Errorf("failed to open mailbox db: %w", err)
	}

	d := &daemon{repoManager: repoManager, p2pStore: p2pStore}
	if err := d.init(network); err != nil {
		d.stop()
		return nil, err
	}
	return d, nil
}

func (d *daemon) init(network *chaincfg.Params) error {
	seed, err := hex.DecodeString(config.GetString(config.WalletSeedKey))
	if err != nil {
		return fmt.Errorf("invalid wallet seed: %w", err)
	}

	explorerSvc, err := esplora.NewService(
		config.GetString(config.ExplorerURLKey), explorerRequestTimeout,
	)
	if err != nil {
		return err
	}

	txFee := int64(config.GetUint64(config.TxFeeSatsKey))
	wallet, err := btcwallet.New(btcwallet.Opts{
		Seed:       seed,
		Network:    network,
		Explorer:   explorerSvc,
		FeeAddress: config.GetString(config.FeeAddressKey),
		MinerFee:   txFee,
	})
	if err != nil {
		return fmt.Errorf("failed to restore wallet: %w", err)
	}
	keyRing, err := btcwallet.NewKeyRing(seed, network)
	if err != nil {
		return err
	}

	p2pSvc, err := p2pwebsocket.NewService(p2pwebsocket.Opts{
		ListenAddr:    config.GetString(config.P2PListenAddrKey),
		PublicAddr:    config.GetP2PPublicAddr(),
		Store:         d.p2pStore,
		FlushInterval: config.GetDuration(config.ResendInitialDelayKey),
	})
	if err != nil {
		return err
	}

	crawlerSvc := crawler.NewService(crawler.Opts{
		ExplorerSvc: explorerSvc,
		Interval:    time.Duration(config.GetInt(config.CrawlIntervalKey)) * time.Millisecond,
		MinConfirmations: config.GetInt(config.DepositConfirmationsKey),
		ErrorHandler: func(err error) {
			log.WithError(err).Warn("crawler")
		},
	})
	listener := trade.NewBlockchainListener(crawlerSvc)

	accountID, paymentAccount := paymentAccountFromKey(keyRing.PubKeyRing())
	tradeSvc, err := trade.NewService(
		d.repoManager, wallet, p2pSvc, keyRing, listener, clock.New(),
		trade.Config{
			Protocol: protocol.Config{
				Timeout:            config.GetDuration(config.ProtocolTimeoutKey),
				ResendInitialDelay: config.GetDuration(config.ResendInitialDelayKey),
				ResendMaxAttempts:  config.GetInt(config.ResendMaxAttemptsKey),
				LockTimeDelay:      config.GetDuration(config.LockTimeDelayKey),
				DonationAddress:    config.GetString(config.DonationAddressKey),
				AccountID:          accountID,
				PaymentAccount:     paymentAccount,
			},
			TxFee:    txFee,
			TakerFee: int64(config.GetUint64(config.TakerFeeSatsKey)),
			MakerFee: int64(config.GetUint64(config.MakerFeeSatsKey)),
		},
	)
	if err != nil {
		return err
	}

	d.p2pSvc = p2pSvc
	d.listener = listener
	d.tradeSvc = tradeSvc
	return nil
}

func (d *daemon) start(ctx context.Context) error {
	d.listener.ObserveBlockchain(d.tradeSvc.OnDepositConfirmed)

	// Pending trades and stored mailbox messages must be handled before
	// accepting new messages from peers.
	if err := d.tradeSvc.Start(ctx); err != nil {
		return err
	}
	if err := d.p2pSvc.Start(ctx); err != nil {
		return err
	}

	if interval := config.GetInt(config.StatsIntervalKey); interval > 0 {
		stats.EnableMemoryStatistics(
			ctx, time.Duration(interval)*time.Second,
			filepath.Join(config.GetDatadir(), config.ProfilerLocation),
		)
	}

	d.group = &errgroup.Group{}
	if addr := config.GetString(config.MetricsAddrKey); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metrics = &http.Server{Addr: addr, Handler: mux}

		d.group.Go(func() error {
			log.Infof("serving metrics on %s", addr)
			if err := d.metrics.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
				return err
			}
			return nil
		})
	}
	return nil
}

func (d *daemon) stop() {
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		//nolint
		d.metrics.Shutdown(ctx)
		cancel()
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			log.WithError(err).Warn("metrics server")
		}
	}
	if d.tradeSvc != nil {
		d.tradeSvc.Stop()
	}
	if d.p2pSvc != nil {
		d.p2pSvc.Stop()
	}
	if d.listener != nil {
		d.listener.StopObserveBlockchain()
	}
	d.repoManager.Close()
	if err := d.p2pStore.Close(); err != nil {
		log.WithError(err).Warn("failed to close mailbox db")
	}
}

// paymentAccountFromKey returns account ids derived from the identity key,
// so that the payment account hash doesn't change across restarts.
func paymentAccountFromKey(
	pubKeyRing domain.PubKeyRing,
) (string, *domain.PaymentAccountPayload) {
	h := sha256.Sum256(pubKeyRing.SignaturePubKey)
	accountID := hex.EncodeToString(h[:8])

	return accountID, &domain.PaymentAccountPayload{
		ID:              hex.EncodeToString(h[8:16]),
		PaymentMethodID: config.GetString(config.PaymentMethodKey),
		HolderName:      config.GetString(config.PaymentAccountHolderKey),
	}
}
