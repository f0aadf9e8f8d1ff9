package config

import (
	"fmt"
	"time"

	"vsnbridge/queue"
	"vsnbridge/types"
)

// MinBidValidity keeps the bid refresh, which runs every half validity,
// from spinning.
const MinBidValidity = 30 * time.Second

type Configuration struct {
	Application struct {
		Host     string `yaml:"host" envconfig:"APP_HOST"`
		Port     int    `yaml:"port" envconfig:"APP_PORT"`
		Debug    bool   `yaml:"debug" envconfig:"APP_DEBUG"`
		UseSSL   bool   `yaml:"ssl" envconfig:"APP_SSL"`
		CertFile string `yaml:"cert_file" envconfig:"APP_CERT_FILE"`
		KeyFile  string `yaml:"key_file" envconfig:"APP_KEY_FILE"`
	} `yaml:"application"`

	Log LogConfig `yaml:"log"`

	Redis struct {
		Host     string `yaml:"host" envconfig:"REDIS_HOST"`
		Port     int    `yaml:"port" envconfig:"REDIS_PORT"`
		Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	} `yaml:"redis"`

	Database struct {
		// postgres or sqlite
		Driver       string `yaml:"driver" envconfig:"DATABASE_DRIVER"`
		URL          string `yaml:"url" envconfig:"DATABASE_URL"`
		MaxOpenConns int    `yaml:"max_open_conns" envconfig:"DATABASE_MAX_OPEN_CONNS"`
	} `yaml:"database"`

	// where transfer records are kept: redis or database
	Store string `yaml:"store" envconfig:"STORE"`

	Queue struct {
		// redis or memory
		Backend      string        `yaml:"backend" envconfig:"QUEUE_BACKEND"`
		PollInterval time.Duration `yaml:"poll_interval" envconfig:"QUEUE_POLL_INTERVAL"`
		ClaimLease   time.Duration `yaml:"claim_lease" envconfig:"QUEUE_CLAIM_LEASE"`
		Workers      struct {
			Transfers    int `yaml:"transfers" envconfig:"QUEUE_WORKERS_TRANSFERS"`
			Bids         int `yaml:"bids" envconfig:"QUEUE_WORKERS_BIDS"`
			Transactions int `yaml:"transactions" envconfig:"QUEUE_WORKERS_TRANSACTIONS"`
		} `yaml:"workers"`
	} `yaml:"queue"`

	Engine EngineConfig `yaml:"engine"`

	Bids struct {
		Validity time.Duration `yaml:"validity" envconfig:"BIDS_VALIDITY"`
		Offers   []BidOffer    `yaml:"offers" ignored:"true"`
	} `yaml:"bids"`

	Blockchains map[string]BlockchainConfig `yaml:"blockchains" ignored:"true"`
}

type LogConfig struct {
	// json or human
	Format  string `yaml:"format" envconfig:"LOG_FORMAT"`
	Console bool   `yaml:"console" envconfig:"LOG_CONSOLE"`
	File    struct {
		Enabled     bool   `yaml:"enabled" envconfig:"LOG_FILE_ENABLED"`
		Name        string `yaml:"name" envconfig:"LOG_FILE_NAME"`
		MaxSizeMB   int    `yaml:"max_size_mb" envconfig:"LOG_FILE_MAX_SIZE_MB"`
		BackupCount int    `yaml:"backup_count" envconfig:"LOG_FILE_BACKUP_COUNT"`
	} `yaml:"file"`
}

type EngineConfig struct {
	// consecutive unresolvable polls before a transfer is given up
	MaxUnresolvableAttempts int `yaml:"max_unresolvable_attempts" envconfig:"ENGINE_MAX_UNRESOLVABLE_ATTEMPTS"`
	// failed submission attempts before an unsubmitted transfer is marked failed
	MaxSubmissionAttempts int `yaml:"max_submission_attempts" envconfig:"ENGINE_MAX_SUBMISSION_ATTEMPTS"`
	// zero disables the limit
	MaxPendingDuration time.Duration `yaml:"max_pending_duration" envconfig:"ENGINE_MAX_PENDING_DURATION"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay" envconfig:"ENGINE_MAX_RETRY_DELAY"`
}

type BidOffer struct {
	Source        string `yaml:"source"`
	Destination   string `yaml:"destination"`
	Fee           string `yaml:"fee"`
	ExecutionTime uint64 `yaml:"execution_time"`
}

type BlockchainConfig struct {
	Active             bool          `yaml:"active"`
	Registered         bool          `yaml:"registered"`
	Provider           string        `yaml:"provider"`
	FallbackProviders  []string      `yaml:"fallback_providers"`
	AverageBlockTime   int           `yaml:"average_block_time"` // seconds
	Confirmations      int           `yaml:"confirmations"`
	ChainID            int64         `yaml:"chain_id"`
	Hub                string        `yaml:"hub"`
	VSNToken           string        `yaml:"vsn_token"`
	PrivateKey         string        `yaml:"private_key"` // keystore file
	PrivateKeyPassword string        `yaml:"private_key_password"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	GasLimit           uint64        `yaml:"gas_limit"`
	FeeBumpPercent     int           `yaml:"fee_bump_percent"`
}

func (c BlockchainConfig) BlockTime() time.Duration {
	return time.Duration(c.AverageBlockTime) * time.Second
}

// ConfirmationDeadline is how long a submitted transaction may stay
// unconfirmed before it is considered stuck.
func (c BlockchainConfig) ConfirmationDeadline() time.Duration {
	return c.BlockTime() * time.Duration(c.Confirmations)
}

// Providers returns the primary provider followed by the fallbacks.
func (c BlockchainConfig) Providers() []string {
	list := make([]string, 0, 1+len(c.FallbackProviders))
	if c.Provider != "" {
		list = append(list, c.Provider)
	}
	for _, p := range c.FallbackProviders {
		if p != "" {
			list = append(list, p)
		}
	}
	return list
}

// Blockchain returns the configuration of the given chain, zero value if absent.
func (c *Configuration) Blockchain(b types.Blockchain) (BlockchainConfig, bool) {
	cfg, ok := c.Blockchains[b.Key()]
	return cfg, ok
}

// ActiveBlockchains lists the chains that are configured as active.
func (c *Configuration) ActiveBlockchains() []types.Blockchain {
	var list []types.Blockchain
	for _, b := range types.Blockchains() {
		if cfg, ok := c.Blockchain(b); ok && cfg.Active {
			list = append(list, b)
		}
	}
	return list
}

func (c *Configuration) setDefaults() {
	if c.Application.Port == 0 {
		c.Application.Port = 8080
	}
	if c.Log.Format == "" {
		c.Log.Format = "human"
	}
	if c.Log.File.MaxSizeMB == 0 {
		c.Log.File.MaxSizeMB = 100
	}
	if c.Store == "" {
		c.Store = "redis"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "redis"
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.ClaimLease == 0 {
		c.Queue.ClaimLease = queue.DefaultLease
	}
	if c.Queue.Workers.Transfers == 0 {
		c.Queue.Workers.Transfers = 4
	}
	if c.Queue.Workers.Bids == 0 {
		c.Queue.Workers.Bids = 1
	}
	if c.Queue.Workers.Transactions == 0 {
		c.Queue.Workers.Transactions = 2
	}
	if c.Engine.MaxUnresolvableAttempts == 0 {
		c.Engine.MaxUnresolvableAttempts = 20
	}
	if c.Engine.MaxSubmissionAttempts == 0 {
		c.Engine.MaxSubmissionAttempts = 10
	}
	if c.Engine.MaxRetryDelay == 0 {
		c.Engine.MaxRetryDelay = 10 * time.Minute
	}
	if c.Bids.Validity == 0 {
		c.Bids.Validity = 10 * time.Minute
	}
	for key, bc := range c.Blockchains {
		if bc.RequestTimeout == 0 {
			bc.RequestTimeout = 10 * time.Second
		}
		if bc.GasLimit == 0 {
			bc.GasLimit = 300000
		}
		if bc.FeeBumpPercent == 0 {
			bc.FeeBumpPercent = 20
		}
		c.Blockchains[key] = bc
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Configuration) Validate() error {
	known := make(map[string]bool)
	for _, b := range types.Blockchains() {
		known[b.Key()] = true
	}
	for key, bc := range c.Blockchains {
		if !known[key] {
			return fmt.Errorf("unknown blockchain %q in configuration", key)
		}
		if !bc.Active {
			continue
		}
		if len(bc.Providers()) == 0 {
			return fmt.Errorf("blockchain %s: no provider configured", key)
		}
		if bc.AverageBlockTime <= 0 {
			return fmt.Errorf("blockchain %s: average_block_time must be positive", key)
		}
		if bc.Confirmations <= 0 {
			return fmt.Errorf("blockchain %s: confirmations must be positive", key)
		}
		if bc.FeeBumpPercent < 10 {
			// nodes reject replacements with less than 10% price bump
			return fmt.Errorf("blockchain %s: fee_bump_percent must be at least 10", key)
		}
	}
	if c.Bids.Validity < MinBidValidity {
		return fmt.Errorf("bids validity %s is shorter than %s", c.Bids.Validity, MinBidValidity)
	}
	for _, offer := range c.Bids.Offers {
		if !known[offer.Source] || !known[offer.Destination] {
			return fmt.Errorf("bid offer %s->%s references an unknown blockchain", offer.Source, offer.Destination)
		}
	}
	switch c.Store {
	case "redis", "database":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be positive")
	}
	if c.Queue.ClaimLease <= 0 {
		return fmt.Errorf("queue claim_lease must be positive")
	}
	return nil
}
