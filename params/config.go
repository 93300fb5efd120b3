package params

import (
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/domain"
)

// Monitor carries every configuration key the monitor runtime reads,
// with the same defaults the runtime falls back to when unset.
type Monitor struct {
	PnLUpdateInterval     time.Duration
	RefreshInterval       time.Duration
	PricePollInterval     time.Duration
	MaintenanceMarginRate decimal.Decimal
	AlertThresholdPct     decimal.Decimal
	OracleBaseURL         string
	ProgramID             domain.Address
	RPCURL                string
	OrderedSetStoreURL    string // empty means "in-process" (InMemoryBackend)
}

type Config struct {
	Monitor Monitor
}

func Default() Config {
	return Config{
		Monitor: Monitor{
			PnLUpdateInterval:     2000 * time.Millisecond,
			RefreshInterval:       2000 * time.Millisecond,
			PricePollInterval:     1000 * time.Millisecond,
			MaintenanceMarginRate: decimal.RequireFromString("0.025"),
			AlertThresholdPct:     decimal.RequireFromString("0.10"),
			OracleBaseURL:         "https://hermes.pyth.network",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from the current directory, if present
	}

	if ms := envMillis("PNL_UPDATE_INTERVAL_MS"); ms >= 0 {
		cfg.Monitor.PnLUpdateInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := envMillis("POSITION_REFRESH_INTERVAL_MS"); ms >= 0 {
		cfg.Monitor.RefreshInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := envMillis("PRICE_POLL_INTERVAL_MS"); ms >= 0 {
		cfg.Monitor.PricePollInterval = time.Duration(ms) * time.Millisecond
	}
	if mmr := envDecimal("MAINTENANCE_MARGIN_RATIO"); mmr != nil {
		cfg.Monitor.MaintenanceMarginRate = *mmr
	}
	if thr := envDecimal("ALERT_THRESHOLD_PCT"); thr != nil {
		cfg.Monitor.AlertThresholdPct = *thr
	}
	if url := os.Getenv("ORACLE_BASE_URL"); url != "" {
		cfg.Monitor.OracleBaseURL = url
	}
	if pid := os.Getenv("PROGRAM_ID"); pid != "" {
		if addr, err := parseAddress(pid); err == nil {
			cfg.Monitor.ProgramID = addr
		}
	}
	if rpc := os.Getenv("RPC_URL"); rpc != "" {
		cfg.Monitor.RPCURL = rpc
	}
	if store := os.Getenv("ORDERED_SET_STORE_URL"); store != "" {
		cfg.Monitor.OrderedSetStoreURL = store
	}

	return cfg
}

// envMillis reads key as a millisecond integer, returning -1 if unset
// or unparseable so callers can tell "not overridden" from "zero".
func envMillis(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return -1
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return ms
}

func envDecimal(key string) *decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &d
}

// parseAddress decodes a hex-encoded (with or without 0x prefix)
// 32-byte program id.
func parseAddress(s string) (domain.Address, error) {
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return domain.Address{}, err
	}
	return domain.AddressFromBytes(b), nil
}
