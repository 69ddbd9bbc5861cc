package pricer

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/lang"
)

// Config contains the bot configuration.
//
// You can use environment variables to fill it:
// PRICER_BOT_TOKEN - Telegram bot token
// PRICER_CHANNEL_IDS - broadcast channel ids
// PRICER_ADMIN_USERNAME / PRICER_ADMIN_PASSWORD - credential pair that promotes to god mode
// PRICER_GOD_CHAT_ID / PRICER_GOD_USERNAME - the hardcoded god account
// PRICER_POST_INTERVAL - default broadcast interval
// PRICER_GC_INTERVAL - idle session collection interval
// PRICER_CMC_API_KEY / PRICER_SOURCE_ARENA_TOKEN - provider credentials
type Config struct {
	// BotToken is the Telegram bot token.
	BotToken string `yaml:"bot_token" env:"PRICER_BOT_TOKEN"`

	// ChannelIDs are the broadcast target channels.
	ChannelIDs []int64 `yaml:"channel_ids" env:"PRICER_CHANNEL_IDS"`

	// RequiredChannels are the channels a user must be a member of before
	// most commands are served.
	RequiredChannels []string `yaml:"required_channels" env:"PRICER_REQUIRED_CHANNELS"`

	// AdminUsername and AdminPassword form the credential pair that
	// promotes an account to god mode at runtime.
	AdminUsername string `yaml:"admin_username" env:"PRICER_ADMIN_USERNAME"`
	AdminPassword string `yaml:"admin_password" env:"PRICER_ADMIN_PASSWORD"`

	// GodChatID is pinned to god mode regardless of the stored mode.
	GodChatID   int64  `yaml:"god_chat_id" env:"PRICER_GOD_CHAT_ID"`
	GodUsername string `yaml:"god_username" env:"PRICER_GOD_USERNAME"`

	// DefaultInterval is the broadcast interval used when an admin does not
	// provide one. Default: 10 minutes.
	DefaultInterval time.Duration `yaml:"post_interval" env:"PRICER_POST_INTERVAL"`

	// GCInterval is the idle session collection interval. Default: 30 minutes.
	GCInterval time.Duration `yaml:"gc_interval" env:"PRICER_GC_INTERVAL"`

	// IdleThreshold is the idle duration after which a session is written
	// back and evicted. Default: half of GCInterval.
	IdleThreshold time.Duration `yaml:"idle_threshold" env:"PRICER_IDLE_THRESHOLD"`

	// CacheCapacity bounds the number of live sessions. Default: 10000.
	CacheCapacity int `yaml:"cache_capacity" env:"PRICER_CACHE_CAPACITY"`

	// CacheTTL is the backstop TTL of the session cache. Default: 24 hours.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"PRICER_CACHE_TTL"`

	// DefaultCryptoSource selects the crypto provider at startup.
	// Default: coingecko.
	DefaultCryptoSource string `yaml:"default_crypto_source" env:"PRICER_DEFAULT_CRYPTO_SOURCE"`

	// CoinMarketCapAPIKey is required when the coinmarketcap source is used.
	CoinMarketCapAPIKey string `yaml:"cmc_api_key" env:"PRICER_CMC_API_KEY"`

	// SourceArenaToken authorizes the currency/gold provider.
	SourceArenaToken string `yaml:"source_arena_token" env:"PRICER_SOURCE_ARENA_TOKEN"`

	// FetchTimeout bounds one provider request. Default: 10 seconds.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"PRICER_FETCH_TIMEOUT"`

	// CryptoSymbols and CurrencySymbols define the broadcast post contents
	// and the symbols offered in market configuration.
	CryptoSymbols   []string `yaml:"crypto_symbols" env:"PRICER_CRYPTO_SYMBOLS"`
	CurrencySymbols []string `yaml:"currency_symbols" env:"PRICER_CURRENCY_SYMBOLS"`

	// MessageHeader and MessageFootnote wrap every broadcast post.
	// Admins can change them at runtime.
	MessageHeader   string `yaml:"message_header" env:"PRICER_MESSAGE_HEADER"`
	MessageFootnote string `yaml:"message_footnote" env:"PRICER_MESSAGE_FOOTNOTE"`

	// LPTimeout is the long polling timeout. Default: 15 seconds.
	LPTimeout time.Duration `yaml:"lp_timeout" env:"PRICER_LP_TIMEOUT"`

	// WebhookURL switches update delivery from long polling to a webhook
	// server. Must be a public https address. WebhookListen is the local
	// listen address of that server. Default listen: :8443.
	WebhookURL    string `yaml:"webhook_url" env:"PRICER_WEBHOOK_URL"`
	WebhookListen string `yaml:"webhook_listen" env:"PRICER_WEBHOOK_LISTEN"`

	// MetricsAddress enables the Prometheus /metrics endpoint when set,
	// e.g. ":9090".
	MetricsAddress string `yaml:"metrics_address" env:"PRICER_METRICS_ADDRESS"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" env:"PRICER_DEBUG"`

	// DB is the persistent store configuration.
	DB DatabaseConfig `yaml:"db"`
}

// Read fills the config from a file if one is given, otherwise from the
// environment.
func (cfg *Config) Read(fileName ...string) error {
	if len(fileName) > 0 {
		return cleanenv.ReadConfig(fileName[0], cfg)
	}
	return cleanenv.ReadEnv(cfg)
}

// PrepareAndValidate applies defaults and validates the result.
func (cfg *Config) PrepareAndValidate() error {
	cfg.DefaultInterval = lang.Check(cfg.DefaultInterval, 10*time.Minute)
	cfg.GCInterval = lang.Check(cfg.GCInterval, 30*time.Minute)
	cfg.IdleThreshold = lang.Check(cfg.IdleThreshold, cfg.GCInterval/2)
	cfg.CacheCapacity = lang.Check(cfg.CacheCapacity, 10000)
	cfg.CacheTTL = lang.Check(cfg.CacheTTL, 24*time.Hour)
	cfg.FetchTimeout = lang.Check(cfg.FetchTimeout, defaultFetchTimeout)
	cfg.LPTimeout = lang.Check(cfg.LPTimeout, 15*time.Second)
	cfg.WebhookListen = lang.Check(cfg.WebhookListen, ":8443")
	cfg.DefaultCryptoSource = lang.Check(cfg.DefaultCryptoSource, SourceNameCoinGecko)
	if len(cfg.CryptoSymbols) == 0 {
		cfg.CryptoSymbols = []string{"BTC", "ETH", "USDT", "BNB", "XRP", "ADA", "DOGE", "SOL"}
	}
	if len(cfg.CurrencySymbols) == 0 {
		cfg.CurrencySymbols = []string{"USD", "EUR", "GBP", "TRY", "AED", "GOLD18", "COIN"}
	}

	return validation.ValidateStruct(cfg,
		validation.Field(&cfg.BotToken, validation.Required),
		validation.Field(&cfg.ChannelIDs, validation.Required),
		validation.Field(&cfg.GCInterval, validation.Min(time.Minute)),
		validation.Field(&cfg.IdleThreshold, validation.Min(30*time.Second)),
		validation.Field(&cfg.AdminPassword, validation.Required.When(cfg.AdminUsername != "")),
	)
}

// AdminCreds bundles the configured promotion credentials.
func (cfg Config) AdminCreds() AdminCredentials {
	return AdminCredentials{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	}
}
