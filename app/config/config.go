// Package config is the application configuration: the core bot settings
// plus the store, the panel API and the account economics. It is decoded
// once at startup and turned into the immutable settings values the other
// packages receive.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/broadcast"
	"github.com/m3rciful/v2raybot/app/i18n"
	"github.com/m3rciful/v2raybot/app/ledger"
	coreconfig "github.com/m3rciful/v2raybot/core/config"
	coredatabase "github.com/m3rciful/v2raybot/core/database"
	"github.com/m3rciful/v2raybot/core/telegram/netutil"
)

// RedisConfig addresses the Redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string      `yaml:"driver" envconfig:"STORE_DRIVER"`
	Redis  RedisConfig `yaml:"redis"`
}

// ProvisionConfig addresses the panel API.
type ProvisionConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"PANEL_API_URL"`
	Token   string        `yaml:"token" envconfig:"PANEL_API_TOKEN"`
	Timeout time.Duration `yaml:"timeout" envconfig:"PANEL_API_TIMEOUT"`
}

// Plan is a quota offered for credits or money.
type Plan struct {
	GB    int    `yaml:"gb"`
	Price string `yaml:"price"`
}

// PaymentMethod is an account users pay premium plans to.
type PaymentMethod struct {
	Key         string `yaml:"key"`
	NameEN      string `yaml:"name_en"`
	NameMY      string `yaml:"name_my"`
	AccountName string `yaml:"account_name"`
	Number      string `yaml:"number"`
}

// Name returns the method label for lang.
func (m PaymentMethod) Name(lang string) string {
	if lang == i18n.LangMY && m.NameMY != "" {
		return m.NameMY
	}
	return m.NameEN
}

// Server is a provisioning panel users may choose.
type Server struct {
	Panel int    `yaml:"panel"`
	Name  string `yaml:"name"`
}

// BotConfig holds the account economics and the bot's identities.
type BotConfig struct {
	AdminIDs   []int64 `yaml:"admin_ids" envconfig:"BOT_ADMIN_IDS"`
	ChannelID  string  `yaml:"channel_id" envconfig:"BOT_CHANNEL_ID"`
	ChannelURL string  `yaml:"channel_url" envconfig:"BOT_CHANNEL_URL"`
	OwnerURL   string  `yaml:"owner_url" envconfig:"BOT_OWNER_URL"`
	Support    string  `yaml:"support"`

	DefaultLang string `yaml:"default_lang" envconfig:"BOT_DEFAULT_LANG"`
	Timezone    string `yaml:"timezone" envconfig:"BOT_TIMEZONE"`

	ReferralReward string `yaml:"referral_reward"`
	CostPerGB      string `yaml:"cost_per_gb"`
	CreditPlans    []int  `yaml:"credit_plans"`
	RedeemDays     int    `yaml:"redeem_days"`

	PremiumPlans       []Plan          `yaml:"premium_plans"`
	PremiumDefaultDays int             `yaml:"premium_default_days"`
	PremiumPanel       int             `yaml:"premium_panel"`
	PaymentMethods     []PaymentMethod `yaml:"payment_methods"`
	Servers            []Server        `yaml:"servers"`

	UsersPerPage   int           `yaml:"users_per_page"`
	KeysPerPage    int           `yaml:"keys_per_page"`
	OnlinePerPage  int           `yaml:"online_per_page"`
	OnlineCacheTTL time.Duration `yaml:"online_cache_ttl"`
	StateTTL       time.Duration `yaml:"state_ttl" envconfig:"BOT_STATE_TTL"`
	// DropBannedCallbacks is a pointer so an absent key keeps the default.
	DropBannedCallbacks *bool `yaml:"drop_banned_callbacks"`
}

// BroadcastConfig tunes the broadcast dispatcher.
type BroadcastConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	BatchDelay        time.Duration `yaml:"batch_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryMargin       time.Duration `yaml:"retry_margin"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
}

// Config is the whole application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Store     StoreConfig         `yaml:"store"`
	Database  coredatabase.Config `yaml:"database"`
	Provision ProvisionConfig     `yaml:"provision"`
	Bot       BotConfig           `yaml:"bot"`
	Broadcast BroadcastConfig     `yaml:"broadcast"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// Load reads the YAML file at path, applies environment overrides and
// normalizes the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates cfg and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case "":
		cfg.Store.Driver = ledger.DriverMemory
	case ledger.DriverMemory, ledger.DriverPostgres:
	case ledger.DriverRedis:
		if strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
			return fmt.Errorf("store.redis.addr is required when store.driver is 'redis'")
		}
	default:
		return fmt.Errorf("invalid store.driver %q; allowed: memory, redis, postgres", cfg.Store.Driver)
	}
	if cfg.Store.Redis.Prefix == "" {
		cfg.Store.Redis.Prefix = "v2raybot:"
	}

	if strings.TrimSpace(cfg.Provision.BaseURL) == "" {
		return fmt.Errorf("provision.base_url is required")
	}
	if cfg.Provision.Timeout <= 0 {
		cfg.Provision.Timeout = 30 * time.Second
	}

	if err := normalizeBot(&cfg.Bot); err != nil {
		return err
	}
	normalizeBroadcast(&cfg.Broadcast)
	return nil
}

func normalizeBot(b *BotConfig) error {
	if len(b.AdminIDs) == 0 {
		return fmt.Errorf("bot.admin_ids needs at least one id")
	}
	b.DefaultLang = strings.ToLower(strings.TrimSpace(b.DefaultLang))
	switch b.DefaultLang {
	case "":
		b.DefaultLang = i18n.LangEN
	case i18n.LangEN, i18n.LangMY:
	default:
		return fmt.Errorf("invalid bot.default_lang %q; allowed: en, my", b.DefaultLang)
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("invalid bot.timezone %q: %w", b.Timezone, err)
	}

	if b.ReferralReward == "" {
		b.ReferralReward = "0.5"
	}
	if b.CostPerGB == "" {
		b.CostPerGB = "0.1"
	}
	for field, v := range map[string]string{"referral_reward": b.ReferralReward, "cost_per_gb": b.CostPerGB} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid bot.%s %q: %w", field, v, err)
		}
		if !d.IsPositive() {
			return fmt.Errorf("bot.%s must be > 0", field)
		}
	}
	if len(b.CreditPlans) == 0 {
		b.CreditPlans = []int{5, 10}
	}
	for _, gb := range b.CreditPlans {
		if gb < 1 {
			return fmt.Errorf("bot.credit_plans entries must be >= 1")
		}
	}
	if b.RedeemDays < 0 {
		return fmt.Errorf("bot.redeem_days must be >= 0")
	}

	for _, p := range b.PremiumPlans {
		if p.GB < 1 || strings.TrimSpace(p.Price) == "" {
			return fmt.Errorf("bot.premium_plans entries need gb >= 1 and a price")
		}
	}
	if b.PremiumDefaultDays <= 0 {
		b.PremiumDefaultDays = 30
	}
	if b.PremiumPanel <= 0 {
		b.PremiumPanel = 1
	}
	seen := map[string]struct{}{}
	for _, m := range b.PaymentMethods {
		if m.Key == "" || strings.ContainsAny(m.Key, "_ ") {
			return fmt.Errorf("bot.payment_methods key %q must be non-empty without spaces or underscores", m.Key)
		}
		if _, dup := seen[m.Key]; dup {
			return fmt.Errorf("duplicate bot.payment_methods key %q", m.Key)
		}
		seen[m.Key] = struct{}{}
	}
	if len(b.Servers) == 0 {
		b.Servers = []Server{{Panel: 1, Name: "Server 1"}}
	}
	for _, s := range b.Servers {
		if s.Panel < 1 {
			return fmt.Errorf("bot.servers panel must be >= 1")
		}
	}

	if b.UsersPerPage <= 0 {
		b.UsersPerPage = 20
	}
	if b.KeysPerPage <= 0 {
		b.KeysPerPage = 5
	}
	if b.OnlinePerPage <= 0 {
		b.OnlinePerPage = 20
	}
	if b.OnlineCacheTTL <= 0 {
		b.OnlineCacheTTL = time.Minute
	}
	if b.StateTTL < 0 {
		return fmt.Errorf("bot.state_ttl must be >= 0")
	}
	if b.DropBannedCallbacks == nil {
		drop := true
		b.DropBannedCallbacks = &drop
	}
	return nil
}

func normalizeBroadcast(b *BroadcastConfig) {
	def := broadcast.DefaultOptions()
	if b.BatchSize <= 0 {
		b.BatchSize = def.BatchSize
	}
	if b.BatchDelay <= 0 {
		b.BatchDelay = def.BatchDelay
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.Policy.MaxAttempts
	}
	if b.RetryMargin <= 0 {
		b.RetryMargin = def.Policy.Margin
	}
	if b.DefaultRetryAfter <= 0 {
		b.DefaultRetryAfter = 5 * time.Second
	}
}

// Location returns the configured display time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AccountSettings builds the settings of the account service.
func (c *Config) AccountSettings() accounts.Settings {
	return accounts.Settings{
		ReferralReward: decimal.RequireFromString(c.Bot.ReferralReward),
		CostPerGB:      decimal.RequireFromString(c.Bot.CostPerGB),
		RedeemDays:     c.Bot.RedeemDays,
		PremiumDays:    c.Bot.PremiumDefaultDays,
		PremiumPanel:   c.Bot.PremiumPanel,
		Admins:         append([]int64(nil), c.Bot.AdminIDs...),
		DefaultLang:    c.Bot.DefaultLang,
	}
}

// BroadcastOptions builds the broadcast dispatcher options.
func (c *Config) BroadcastOptions() broadcast.Options {
	return broadcast.Options{
		BatchSize:  c.Broadcast.BatchSize,
		BatchDelay: c.Broadcast.BatchDelay,
		Policy: netutil.Policy{
			MaxAttempts: c.Broadcast.MaxAttempts,
			Margin:      c.Broadcast.RetryMargin,
			Classify:    netutil.ClassifyFlood(c.Broadcast.DefaultRetryAfter),
		},
	}
}

// LedgerOptions builds the store selection for ledger.Open. The database
// handle is supplied by the caller.
func (c *Config) LedgerOptions() ledger.OpenOptions {
	return ledger.OpenOptions{
		Driver: c.Store.Driver,
		Redis: ledger.RedisOptions{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Prefix:   c.Store.Redis.Prefix,
		},
	}
}

// UsesDatabase reports whether the store needs Postgres.
func (c *Config) UsesDatabase() bool {
	return c.Store.Driver == ledger.DriverPostgres
}
