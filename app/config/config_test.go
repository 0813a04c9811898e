package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/v2raybot/app/ledger"
)

const minimalYAML = `
telegram:
  token: "123:abc"
provision:
  base_url: "https://panel.example.test/api"
bot:
  admin_ids: [42]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, "longpoll", cfg.Telegram.RunMode)
	require.Equal(t, ledger.DriverMemory, cfg.Store.Driver)
	require.Equal(t, "en", cfg.Bot.DefaultLang)
	require.Equal(t, []int{5, 10}, cfg.Bot.CreditPlans)
	require.Equal(t, 5, cfg.Bot.KeysPerPage)
	require.Equal(t, time.Minute, cfg.Bot.OnlineCacheTTL)
	require.True(t, *cfg.Bot.DropBannedCallbacks)
	require.Equal(t, 10, cfg.Broadcast.BatchSize)
	require.Equal(t, 2500*time.Millisecond, cfg.Broadcast.BatchDelay)
	require.Equal(t, 2, cfg.Broadcast.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Broadcast.RetryMargin)
	require.Len(t, cfg.Bot.Servers, 1)
	require.False(t, cfg.UsesDatabase())

	s := cfg.AccountSettings()
	require.True(t, s.ReferralReward.Equal(decimal.RequireFromString("0.5")))
	require.True(t, s.CostPerGB.Equal(decimal.RequireFromString("0.1")))
	require.Equal(t, 30, s.PremiumDays)
	require.True(t, s.IsAdmin(42))
}

func TestLoadReadsDomainSections(t *testing.T) {
	body := minimalYAML + `  drop_banned_callbacks: false
  state_ttl: 10m
  premium_plans:
    - {gb: 50, price: "3000 MMK"}
  payment_methods:
    - {key: kpay, name_en: "KBZ Pay", name_my: "ကေပေး", account_name: "Example", number: "000"}
store:
  driver: redis
  redis:
    addr: "127.0.0.1:6379"
broadcast:
  batch_size: 25
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.False(t, *cfg.Bot.DropBannedCallbacks)
	require.Equal(t, 10*time.Minute, cfg.Bot.StateTTL)
	require.Equal(t, "KBZ Pay", cfg.Bot.PaymentMethods[0].Name("en"))
	require.Equal(t, "ကေပေး", cfg.Bot.PaymentMethods[0].Name("my"))
	require.Equal(t, 25, cfg.BroadcastOptions().BatchSize)

	opts := cfg.LedgerOptions()
	require.Equal(t, ledger.DriverRedis, opts.Driver)
	require.Equal(t, "v2raybot:", opts.Redis.Prefix)
}

func TestNormalizeRejectsInvalidSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"no admins":         func(c *Config) { c.Bot.AdminIDs = nil },
		"no panel api":      func(c *Config) { c.Provision.BaseURL = "" },
		"bad driver":        func(c *Config) { c.Store.Driver = "sqlite" },
		"redis no addr":     func(c *Config) { c.Store.Driver = "redis" },
		"bad language":      func(c *Config) { c.Bot.DefaultLang = "fr" },
		"bad reward":        func(c *Config) { c.Bot.ReferralReward = "lots" },
		"negative cost":     func(c *Config) { c.Bot.CostPerGB = "-1" },
		"method underscore": func(c *Config) { c.Bot.PaymentMethods = []PaymentMethod{{Key: "k_pay"}} },
		"negative ttl":      func(c *Config) { c.Bot.StateTTL = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Telegram.Token = "123:abc"
			cfg.Provision.BaseURL = "https://panel.example.test/api"
			cfg.Bot.AdminIDs = []int64{42}
			mutate(cfg)
			require.Error(t, Normalize(cfg))
		})
	}
}
