package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/collatfi/collat/internal/domain"
)

// SignerKeyEnv is the environment variable holding the delegated signer's
// private key. It never appears in the config file.
const SignerKeyEnv = "COLLAT_SIGNER_KEY"

const (
	defaultPollInterval    = 15 * time.Second
	defaultSettleDelay     = 2 * time.Second
	defaultLiqThresholdBps = 8000
	defaultWebAddr         = ":8080"
	defaultChainID         = 1
)

type Config struct {
	RPCURL                 string
	ChainID                int64
	PoolAddress            common.Address
	OracleAddress          common.Address
	Tokens                 []domain.Token
	PollInterval           time.Duration
	SettleDelay            time.Duration
	DefaultLiqThresholdBps int64
	WatchAddresses         []common.Address
	WebAddr                string
	SignerKey              string
}

// TokenTmp mirrors one entry of the `tokens` list in the yaml config.
type TokenTmp struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
	Name     string `yaml:"name,omitempty"`
}

// ConfigTmp is the raw yaml shape; string fields are validated and parsed
// into Config.
type ConfigTmp struct {
	RPCURL                 string        `yaml:"rpc_url"`
	ChainID                int64         `yaml:"chain_id"`
	PoolAddress            string        `yaml:"pool_address"`
	OracleAddress          string        `yaml:"oracle_address"`
	Tokens                 []TokenTmp    `yaml:"tokens"`
	PollInterval           time.Duration `yaml:"poll_interval,omitempty"`
	SettleDelay            time.Duration `yaml:"settle_delay,omitempty"`
	DefaultLiqThresholdBps int64         `yaml:"default_liq_threshold_bps,omitempty"`
	WatchAddresses         []string      `yaml:"watch_addresses,omitempty"`
	WebAddr                string        `yaml:"web_addr,omitempty"`
}

func Get() (*Config, error) {
	config := flag.String("config", "", "path to yaml config")
	flag.Parse()
	if *config != "" {
		return getYaml(*config)
	}

	return getFromCLI()
}

// Load reads a yaml config from an explicit path, bypassing flag parsing.
func Load(path string) (*Config, error) {
	return getYaml(path)
}

func getFromCLI() (*Config, error) {
	rpcURL := flag.String("rpc", "http://localhost:8545", "json-rpc endpoint, example: https://mainnet.infura.io/v3/KEY")
	chainID := flag.Int64("chainid", defaultChainID, "expected chain id")
	pool := flag.String("pool", "", "lending pool contract address")
	oracle := flag.String("oracle", "", "price oracle contract address")
	pi := flag.Duration("pollinterval", defaultPollInterval, "risk sweep interval")
	webAddr := flag.String("webaddr", defaultWebAddr, "status server listen address")

	flag.Parse()

	if !common.IsHexAddress(*pool) {
		return nil, fmt.Errorf("invalid --pool provided, --pool=%s", *pool)
	}
	if !common.IsHexAddress(*oracle) {
		return nil, fmt.Errorf("invalid --oracle provided, --oracle=%s", *oracle)
	}

	return &Config{
		RPCURL:                 *rpcURL,
		ChainID:                *chainID,
		PoolAddress:            common.HexToAddress(*pool),
		OracleAddress:          common.HexToAddress(*oracle),
		PollInterval:           *pi,
		SettleDelay:            defaultSettleDelay,
		DefaultLiqThresholdBps: defaultLiqThresholdBps,
		WebAddr:                *webAddr,
		SignerKey:              os.Getenv(SignerKeyEnv),
	}, nil
}

func getYaml(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	if tmp.RPCURL == "" {
		return nil, fmt.Errorf("missing 'rpc_url' param in yaml config")
	}
	if !common.IsHexAddress(tmp.PoolAddress) {
		return nil, fmt.Errorf("incorrect 'pool_address' param in yaml config: %s", tmp.PoolAddress)
	}
	if !common.IsHexAddress(tmp.OracleAddress) {
		return nil, fmt.Errorf("incorrect 'oracle_address' param in yaml config: %s", tmp.OracleAddress)
	}

	cfg := &Config{
		RPCURL:                 tmp.RPCURL,
		ChainID:                tmp.ChainID,
		PoolAddress:            common.HexToAddress(tmp.PoolAddress),
		OracleAddress:          common.HexToAddress(tmp.OracleAddress),
		PollInterval:           tmp.PollInterval,
		SettleDelay:            tmp.SettleDelay,
		DefaultLiqThresholdBps: tmp.DefaultLiqThresholdBps,
		WebAddr:                tmp.WebAddr,
		SignerKey:              os.Getenv(SignerKeyEnv),
	}

	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.DefaultLiqThresholdBps == 0 {
		cfg.DefaultLiqThresholdBps = defaultLiqThresholdBps
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = defaultWebAddr
	}

	for _, t := range tmp.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("incorrect token 'address' param in yaml config: %s", t.Address)
		}
		if t.Symbol == "" {
			return nil, fmt.Errorf("missing token 'symbol' param in yaml config for %s", t.Address)
		}
		if t.Decimals <= 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("incorrect token 'decimals' param in yaml config for %s: %d", t.Symbol, t.Decimals)
		}
		cfg.Tokens = append(cfg.Tokens, domain.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Name:     t.Name,
		})
	}
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("at least one entry in 'tokens' is required in yaml config")
	}

	for _, a := range tmp.WatchAddresses {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("incorrect 'watch_addresses' entry in yaml config: %s", a)
		}
		cfg.WatchAddresses = append(cfg.WatchAddresses, common.HexToAddress(a))
	}

	return cfg, nil
}
