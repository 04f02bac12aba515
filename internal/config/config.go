package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the bitcoin network, one of mainnet, testnet, regtest or signet
	NetworkKey = "NETWORK"
	// P2PListenAddrKey is the <host:port> where the websocket p2p transport listens on
	P2PListenAddrKey = "P2P_LISTEN_ADDR"
	// P2PPublicAddrKey is the <host:port> advertised to peers in offers and messages.
	// Defaults to the listening address
	P2PPublicAddrKey = "P2P_PUBLIC_ADDR"
	// ExplorerURLKey is the endpoint of the esplora REST API
	ExplorerURLKey = "EXPLORER_URL"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"
	// ProtocolTimeoutKey is how long a protocol step waits for the peer's reply
	ProtocolTimeoutKey = "PROTOCOL_TIMEOUT"
	// LockTimeDelayKey is the delay after which the delayed payout tx becomes valid
	LockTimeDelayKey = "LOCK_TIME_DELAY"
	// ResendInitialDelayKey is the first delay before resending an unacked mailbox message
	ResendInitialDelayKey = "RESEND_INITIAL_DELAY"
	// ResendMaxAttemptsKey caps the resends of an unacked mailbox message
	ResendMaxAttemptsKey = "RESEND_MAX_ATTEMPTS"
	// CrawlIntervalKey is the interval in milliseconds to be used when watching the blockchain via the explorer
	CrawlIntervalKey = "CRAWL_INTERVAL"
	// DepositConfirmationsKey is the depth at which a deposit tx is
	// considered confirmed
	DepositConfirmationsKey = "DEPOSIT_CONFIRMATIONS"
	// TxFeeSatsKey is the mining fee in satoshis paid by every trade transaction
	TxFeeSatsKey = "TX_FEE_SATS"
	// TakerFeeSatsKey is the trade fee in satoshis paid by the taker
	TakerFeeSatsKey = "TAKER_FEE_SATS"
	// MakerFeeSatsKey is the trade fee in satoshis paid by the maker
	MakerFeeSatsKey = "MAKER_FEE_SATS"
	// FeeAddressKey is the address receiving trade fees
	FeeAddressKey = "FEE_ADDRESS"
	// DonationAddressKey is the receiver of the delayed payout tx
	DonationAddressKey = "DONATION_ADDRESS"
	// MetricsAddrKey is the <host:port> where prometheus metrics are served.
	// Leave empty to disable
	MetricsAddrKey = "METRICS_ADDR"
	// StatsIntervalKey defines interval for dumping runtime statistics
	StatsIntervalKey = "STATS_INTERVAL"
	// WalletSeedKey is the hex encoded seed of the daemon's wallet
	WalletSeedKey = "WALLET_SEED"
	// PaymentMethodKey is the counter currency payment method of the
	// daemon's payment account, ie. SEPA
	PaymentMethodKey = "PAYMENT_METHOD"
	// PaymentAccountHolderKey is the holder name of the daemon's payment account
	PaymentAccountHolderKey = "PAYMENT_ACCOUNT_HOLDER"

	DbLocation       = "db"
	P2PLocation      = "p2p"
	ProfilerLocation = "stats"

	DBBadger   = "badger"
	DBInMemory = "inmemory"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("trade-daemon", false)

var networks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"regtest": &chaincfg.RegressionNetParams,
	"signet":  &chaincfg.SigNetParams,
}

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("TRADEPROTO")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, "regtest")
	vip.SetDefault(P2PListenAddrKey, "localhost:9999")
	vip.SetDefault(ExplorerURLKey, "http://localhost:3001")
	vip.SetDefault(DBTypeKey, DBBadger)
	vip.SetDefault(ProtocolTimeoutKey, 120*time.Second)
	vip.SetDefault(LockTimeDelayKey, 10*24*time.Hour)
	vip.SetDefault(ResendInitialDelayKey, 30*time.Second)
	vip.SetDefault(ResendMaxAttemptsKey, 5)
	vip.SetDefault(CrawlIntervalKey, 5000)
	vip.SetDefault(DepositConfirmationsKey, 1)
	vip.SetDefault(TxFeeSatsKey, 2000)
	vip.SetDefault(TakerFeeSatsKey, 5000)
	vip.SetDefault(MakerFeeSatsKey, 1000)
	vip.SetDefault(StatsIntervalKey, 600)
	vip.SetDefault(PaymentMethodKey, "SEPA")

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetNetwork() *chaincfg.Params {
	return networks[strings.ToLower(GetString(NetworkKey))]
}

// GetP2PPublicAddr returns the address advertised to peers.
func GetP2PPublicAddr() string {
	if addr := GetString(P2PPublicAddrKey); addr != "" {
		return addr
	}
	return GetString(P2PListenAddrKey)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if GetNetwork() == nil {
		return fmt.Errorf(
			"unknown network %s, must be one of mainnet, testnet, regtest, signet",
			GetString(NetworkKey),
		)
	}

	dbType := GetString(DBTypeKey)
	if dbType != DBBadger && dbType != DBInMemory {
		return fmt.Errorf("db type must be either %s or %s", DBBadger, DBInMemory)
	}

	if len(GetString(WalletSeedKey)) <= 0 {
		return fmt.Errorf("missing wallet seed")
	}
	if len(GetString(FeeAddressKey)) <= 0 {
		return fmt.Errorf("missing fee address")
	}
	if len(GetString(DonationAddressKey)) <= 0 {
		return fmt.Errorf("missing donation address")
	}

	if GetDuration(ProtocolTimeoutKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", ProtocolTimeoutKey)
	}
	if GetDuration(LockTimeDelayKey) <= GetDuration(ProtocolTimeoutKey) {
		return fmt.Errorf(
			"%s must be greater than %s", LockTimeDelayKey, ProtocolTimeoutKey,
		)
	}
	if GetInt(DepositConfirmationsKey) < 1 {
		return fmt.Errorf("%s must be at least 1", DepositConfirmationsKey)
	}
	if GetInt(ResendMaxAttemptsKey) < 0 {
		return fmt.Errorf("%s must not be negative", ResendMaxAttemptsKey)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, P2PLocation)); err != nil {
		return err
	}
	if GetInt(StatsIntervalKey) > 0 {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
