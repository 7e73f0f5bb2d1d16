package backtest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLSettings is the on-disk shape of a backtest run definition.
type YAMLSettings struct {
	Backtest struct {
		Symbols        []string `yaml:"symbols"`
		Start          string   `yaml:"start"`
		End            string   `yaml:"end"`
		InitialCapital float64  `yaml:"initial_capital"`
		SlippageBps    float64  `yaml:"slippage_bps"`
		CommissionBps  float64  `yaml:"commission_bps"`
		MaxVolumePct   float64  `yaml:"max_volume_pct"`
	} `yaml:"backtest"`

	Risk RiskLimits `yaml:"risk"`

	Strategy struct {
		Type   string         `yaml:"type"`
		Params map[string]any `yaml:"params"`
	} `yaml:"strategy"`
}

// Settings is the resolved runtime form. The strategy stays symbolic
// (type name plus params) so the caller decides which implementation to
// construct; the engine itself only ever sees a Strategy value.
type Settings struct {
	Symbols        []string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Exec           ExecConfig
	Limits         RiskLimits
	StrategyType   string
	StrategyParams map[string]any
}

func DefaultSettings() Settings {
	return Settings{
		InitialCapital: 100_000,
		Exec: ExecConfig{
			SlippageBps:   5,
			CommissionBps: 10,
		},
		Limits: RiskLimits{
			MaxPositions:    5,
			MaxDailyLossPct: 0.02,
			MaxExposurePct:  0.10,
			Sizing:          SizingFixedDollar,
			SizeValue:       10_000,
		},
		StrategyType: "gap_up",
	}
}

// LoadSettings reads a YAML run definition, filling anything omitted
// from the defaults and validating limit ranges.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var ys YAMLSettings
	if err := yaml.Unmarshal(raw, &ys); err != nil {
		return Settings{}, fmt.Errorf("parse yaml: %w", err)
	}

	s := DefaultSettings()
	s.Symbols = ys.Backtest.Symbols

	if ys.Backtest.InitialCapital > 0 {
		s.InitialCapital = ys.Backtest.InitialCapital
	}
	if ys.Backtest.SlippageBps >= 0 {
		s.Exec.SlippageBps = ys.Backtest.SlippageBps
	}
	if ys.Backtest.CommissionBps >= 0 {
		s.Exec.CommissionBps = ys.Backtest.CommissionBps
	}
	if ys.Backtest.MaxVolumePct > 0 {
		s.Exec.MaxVolumePct = ys.Backtest.MaxVolumePct
	}

	if ys.Backtest.Start != "" {
		t, err := time.Parse("2006-01-02", ys.Backtest.Start)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid backtest.start: %w", err)
		}
		s.Start = t
	}
	if ys.Backtest.End != "" {
		t, err := time.Parse("2006-01-02", ys.Backtest.End)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid backtest.end: %w", err)
		}
		s.End = t
	}

	if ys.Risk.MaxPositions > 0 {
		s.Limits.MaxPositions = ys.Risk.MaxPositions
	}
	if ys.Risk.MaxDailyLossPct != 0 {
		s.Limits.MaxDailyLossPct = ys.Risk.MaxDailyLossPct
	}
	if ys.Risk.MaxExposurePct != 0 {
		s.Limits.MaxExposurePct = ys.Risk.MaxExposurePct
	}
	if ys.Risk.Sizing != "" {
		s.Limits.Sizing = ys.Risk.Sizing
	}
	if ys.Risk.SizeValue > 0 {
		s.Limits.SizeValue = ys.Risk.SizeValue
	}
	if err := validateLimits(s.Limits); err != nil {
		return Settings{}, err
	}

	if ys.Strategy.Type != "" {
		s.StrategyType = ys.Strategy.Type
	}
	s.StrategyParams = ys.Strategy.Params

	return s, nil
}

func validateLimits(l RiskLimits) error {
	if l.MaxDailyLossPct < 0 || l.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0,1], got %v", l.MaxDailyLossPct)
	}
	if l.MaxExposurePct < 0 || l.MaxExposurePct > 1 {
		return fmt.Errorf("risk.max_exposure_pct must be in (0,1], got %v", l.MaxExposurePct)
	}
	switch l.Sizing {
	case SizingFixedDollar, SizingFixedFractional:
	default:
		return fmt.Errorf("unknown risk.sizing: %s", l.Sizing)
	}
	return nil
}

// RunConfig assembles the engine input from resolved settings and a
// constructed strategy.
func (s Settings) RunConfig(strategy Strategy) RunConfig {
	return RunConfig{
		Strategy:       strategy,
		Symbols:        s.Symbols,
		Start:          s.Start,
		End:            s.End,
		InitialCapital: s.InitialCapital,
		Limits:         s.Limits,
	}
}
