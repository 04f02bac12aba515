package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	tradeDir = "trades"
	gcPeriod = 30 * time.Minute
)

type repoManager struct {
	store     *badgerhold.Store
	tradeRepo domain.TradeRepository
	offerRepo domain.OfferRepository
	stopGC    chan struct{}
}

// NewRepoManager opens (or creates if not exists) the badger store on disk.
// An empty baseDbDir makes the store live in memory only.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	return newRepoManager(baseDbDir, logger, false)
}

// NewReadOnlyRepoManager opens the on disk store in read-only mode. It fails
// if a process holds the store in read-write mode.
func NewReadOnlyRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	if len(baseDbDir) <= 0 {
		return nil, fmt.Errorf("missing db directory")
	}
	return newRepoManager(baseDbDir, logger, true)
}

func newRepoManager(
	baseDbDir string, logger badger.Logger, readOnly bool,
) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, tradeDir)
	}

	store, err := createDb(dbDir, logger, readOnly)
	if err != nil {
		return nil, fmt.Errorf("opening trade db: %w", err)
	}

	stopGC := make(chan struct{})
	if len(dbDir) > 0 && !readOnly {
		go runValueLogGC(store, stopGC)
	}

	return &repoManager{
		store:     store,
		tradeRepo: NewTradeRepositoryImpl(store),
		offerRepo: NewOfferRepositoryImpl(store),
		stopGC:    stopGC,
	}, nil
}

func (d *repoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepo
}

func (d *repoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepo
}

func (d *repoManager) Close() {
	close(d.stopGC)
	if err := d.store.Close(); err != nil {
		log.WithError(err).Warn("closing trade db")
	}
}

// CreateDb opens a badgerhold store in the given directory, or in memory if
// the directory is empty.
func CreateDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	return createDb(dbDir, logger, false)
}

func createDb(
	dbDir string, logger badger.Logger, readOnly bool,
) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger
	opts.ReadOnly = readOnly && !isInMemory

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

func runValueLogGC(store *badgerhold.Store, stop chan struct{}) {
	ticker := time.NewTicker(gcPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := store.Badger().RunValueLogGC(0.5); err != nil &&
				err != badger.ErrNoRewrite {
				log.Error(err)
			}
		case <-stop:
			return
		}
	}
}
