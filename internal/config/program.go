package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/referrals/pkg/money"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ProgramConfig carries the referral program rules that operators tune
// without a redeploy.
type ProgramConfig struct {
	ReservedCodes         []string `mapstructure:"reservedCodes"`
	CodeMinLength         int      `mapstructure:"codeMinLength"`
	CodeMaxLength         int      `mapstructure:"codeMaxLength"`
	ReviewNoteMinLength   int      `mapstructure:"reviewNoteMinLength"`
	ReviewNoteMaxLength   int      `mapstructure:"reviewNoteMaxLength"`
	DefaultCommissionRate float64  `mapstructure:"defaultCommissionRate"`
	SuspendedAccrues      bool     `mapstructure:"suspendedAccrues"`
	PayoutMinimum         int64    `mapstructure:"payoutMinimum"`
	// StatsCurrency is the only currency summed into the cached partner
	// money aggregates. Per-currency totals come from the ledger summary.
	StatsCurrency string `mapstructure:"statsCurrency"`
}

func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		ReservedCodes: []string{
			"ADMIN", "ROOT", "SUPPORT", "HELP", "API", "SYSTEM",
			"TEST", "NULL", "FREE", "REFERRAL", "PARTNER", "STAFF",
		},
		CodeMinLength:         3,
		CodeMaxLength:         20,
		ReviewNoteMinLength:   10,
		ReviewNoteMaxLength:   1000,
		DefaultCommissionRate: 0.2,
		SuspendedAccrues:      true,
		PayoutMinimum:         5000,
		StatsCurrency:         "USD",
	}
}

// CountsTowardStats reports whether amounts in currency belong in the
// cached partner aggregates.
func (c ProgramConfig) CountsTowardStats(currency string) bool {
	return money.NormalizeCurrency(currency) == money.NormalizeCurrency(c.StatsCurrency)
}

// IsReserved reports whether code collides with the denylist, ignoring case.
func (c ProgramConfig) IsReserved(code string) bool {
	for _, reserved := range c.ReservedCodes {
		if strings.EqualFold(strings.TrimSpace(reserved), code) {
			return true
		}
	}
	return false
}

type ProgramConfigHolder struct {
	current atomic.Value // holds ProgramConfig
}

// NewStaticProgramConfigHolder returns a holder that never reloads.
func NewStaticProgramConfigHolder(cfg ProgramConfig) *ProgramConfigHolder {
	holder := &ProgramConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewProgramConfigHolder(log *zap.Logger) (*ProgramConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("program.config")

	v := viper.New()

	v.SetConfigName("program")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/referrals/config")
	v.AddConfigPath("/etc/referrals")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFERRALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProgramConfig()
	v.SetDefault("program.reservedCodes", defaults.ReservedCodes)
	v.SetDefault("program.codeMinLength", defaults.CodeMinLength)
	v.SetDefault("program.codeMaxLength", defaults.CodeMaxLength)
	v.SetDefault("program.reviewNoteMinLength", defaults.ReviewNoteMinLength)
	v.SetDefault("program.reviewNoteMaxLength", defaults.ReviewNoteMaxLength)
	v.SetDefault("program.defaultCommissionRate", defaults.DefaultCommissionRate)
	v.SetDefault("program.suspendedAccrues", defaults.SuspendedAccrues)
	v.SetDefault("program.payoutMinimum", defaults.PayoutMinimum)
	v.SetDefault("program.statsCurrency", defaults.StatsCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg ProgramConfig
	if err := v.UnmarshalKey("program", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateProgramConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProgramConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		log.Info("program config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProgramConfig
		if err := v.UnmarshalKey("program", &updated); err != nil {
			log.Warn("program config reload failed", zap.Error(err))
			return
		}
		if err := ValidateProgramConfig(updated); err != nil {
			log.Warn("invalid program config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("program config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ProgramConfigHolder) Get() ProgramConfig {
	if h == nil {
		return DefaultProgramConfig()
	}
	cfg, ok := h.current.Load().(ProgramConfig)
	if !ok {
		return DefaultProgramConfig()
	}
	return cfg
}

func ValidateProgramConfig(cfg ProgramConfig) error {
	if cfg.CodeMinLength < 1 || cfg.CodeMaxLength < cfg.CodeMinLength {
		return fmt.Errorf("program code length bounds invalid: %d..%d", cfg.CodeMinLength, cfg.CodeMaxLength)
	}
	if cfg.ReviewNoteMinLength < 1 || cfg.ReviewNoteMaxLength < cfg.ReviewNoteMinLength {
		return fmt.Errorf("program review note bounds invalid: %d..%d", cfg.ReviewNoteMinLength, cfg.ReviewNoteMaxLength)
	}
	if cfg.DefaultCommissionRate <= 0 || cfg.DefaultCommissionRate >= 1 {
		return errors.New("program.defaultCommissionRate must be within (0,1)")
	}
	if cfg.PayoutMinimum < 0 {
		return errors.New("program.payoutMinimum cannot be negative")
	}
	if !money.ValidCurrency(money.NormalizeCurrency(cfg.StatsCurrency)) {
		return fmt.Errorf("program.statsCurrency %q is not a currency code", cfg.StatsCurrency)
	}
	return nil
}
