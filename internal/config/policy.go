package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// InstallmentPolicy controls how the unpaid remainder of a billing record
// is split into future installments. The defaults mirror the historical
// heuristic: at least 500 currency units per installment, at most 10
// installments, due on the 5th of each month.
type InstallmentPolicy struct {
	MinChunkCents int64 `mapstructure:"min_chunk_cents"`
	MaxCount      int   `mapstructure:"max_count"`
	DayOfMonth    int   `mapstructure:"day_of_month"`
}

// RiskPolicy carries operator-tunable scoring weights and level thresholds.
// Factor weights are keyed by factor code; unknown keys are ignored.
type RiskPolicy struct {
	Weights map[string]int `mapstructure:"weights"`

	MediumThreshold   int `mapstructure:"medium_threshold"`
	HighThreshold     int `mapstructure:"high_threshold"`
	CriticalThreshold int `mapstructure:"critical_threshold"`
}

// Policies groups every operator-overridable policy block.
type Policies struct {
	Installments InstallmentPolicy `mapstructure:"installments"`
	Risk         RiskPolicy        `mapstructure:"risk"`
}

// LoadPolicies reads the policy YAML file when path is non-empty and
// applies compiled-in defaults for everything left unset.
func LoadPolicies(path string) (Policies, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("installments.min_chunk_cents", int64(50000))
	v.SetDefault("installments.max_count", 10)
	v.SetDefault("installments.day_of_month", 5)

	v.SetDefault("risk.weights", defaultRiskWeights())
	v.SetDefault("risk.medium_threshold", 25)
	v.SetDefault("risk.high_threshold", 50)
	v.SetDefault("risk.critical_threshold", 75)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Policies{}, fmt.Errorf("read policy file: %w", err)
		}
	}

	var policies Policies
	if err := v.Unmarshal(&policies); err != nil {
		return Policies{}, fmt.Errorf("decode policy file: %w", err)
	}

	if policies.Installments.MinChunkCents <= 0 {
		policies.Installments.MinChunkCents = 50000
	}
	if policies.Installments.MaxCount <= 0 {
		policies.Installments.MaxCount = 10
	}
	if policies.Installments.DayOfMonth < 1 || policies.Installments.DayOfMonth > 28 {
		policies.Installments.DayOfMonth = 5
	}

	return policies, nil
}

func defaultRiskWeights() map[string]int {
	return map[string]int{
		"overdue_30_days":        25,
		"multiple_overdue":       15,
		"balance_over_half":      20,
		"balance_over_ninety":    15,
		"carried_arrears":        10,
		"no_payment_90_days":     10,
		"refused_payment_recent": 15,
	}
}
