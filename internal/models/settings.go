package models

// Position sizing modes.
const (
	PositionSizeModeFixed = "Fixed"
	PositionSizeModeRisk  = "Risk-based"
)

// Margin modes for futures.
const (
	MarginModeCross    = "Cross"
	MarginModeIsolated = "Isolated"
)

// Futures position side.
const (
	PositionSideLong  = "Long"
	PositionSideShort = "Short"
)

// Stop-loss activation modes.
const (
	StopLossModeOff             = "Off"
	StopLossModeAlways          = "Always"
	StopLossModeAfterLastSafety = "After Last Safety"
)

// Trading modes.
const (
	ModeSpot    = "Spot"
	ModeFutures = "Futures"
)

// Run modes.
const (
	RunModeLive     = "Live"
	RunModePaper    = "Paper"
	RunModeBacktest = "Backtest"
)

// StrategySettings is the per-pair (or global default) strategy configuration.
type StrategySettings struct {
	// indicator periods/thresholds
	RSIPeriod             int     `json:"rsi_period"`
	RSILevel              float64 `json:"rsi_level"`
	EMAPeriod             int     `json:"ema_period"`
	ADXPeriod             int     `json:"adx_period"`
	ADXThreshold          float64 `json:"adx_threshold"`
	VolumeSpikeMultiplier float64 `json:"volume_spike_multiplier"`
	ATRMinValue           float64 `json:"atr_min_value"`

	UseRSI            bool `json:"use_rsi"`
	UseEMATrendFilter bool `json:"use_ema_trend_filter"`
	UseADXFilter      bool `json:"use_adx_filter"`
	UseVolumeFilter   bool `json:"use_volume_filter"`
	UseATRFilter      bool `json:"use_atr_filter"`

	// sizing
	BaseOrderSizeUSDT   float64 `json:"base_order_size_usdt"`
	PositionSizeMode    string  `json:"position_size_mode"`
	RiskPerTradePct     float64 `json:"risk_per_trade_pct"`
	MaxTotalExposurePct float64 `json:"max_total_exposure_pct"`
	CommissionPct       float64 `json:"commission_pct"`
	UseMarketOrder      bool    `json:"use_market_order"`
	OrderTimeoutSec     int     `json:"order_timeout_sec"`

	// DCA
	SafetyStepPct     float64 `json:"safety_step_pct"`
	SafetyOrdersCount int     `json:"safety_orders_count"`
	VolumeMultiplier  float64 `json:"volume_multiplier"`

	// exits
	TakeProfitPct         float64 `json:"take_profit_pct"`
	BreakEvenAfterPercent float64 `json:"break_even_after_percent"`
	StopLossMode          string  `json:"stop_loss_mode"`
	StopLossPct           float64 `json:"stop_loss_pct"`

	// futures
	EnableFutures              bool   `json:"enable_futures"`
	Leverage                   int    `json:"leverage"`
	MarginMode                 string `json:"margin_mode"`
	FuturesPositionSide        string `json:"futures_position_side"`
	ProtectionOrdersOnExchange bool   `json:"protection_orders_on_exchange"`

	// runtime policy
	Mode                    string  `json:"mode"`
	RunMode                 string  `json:"run_mode"`
	Timeframe               string  `json:"timeframe"`
	CooldownMinutes         float64 `json:"cooldown_minutes"`
	AntiReentryThresholdPct float64 `json:"anti_reentry_threshold_pct"`
	AutoResumeRunningPairs  bool    `json:"auto_resume_running_pairs"`
}

// DefaultStrategySettings mirrors the source dataclass's field defaults.
func DefaultStrategySettings() StrategySettings {
	return StrategySettings{
		RSIPeriod:             14,
		RSILevel:              30.0,
		EMAPeriod:             200,
		ADXPeriod:             14,
		ADXThreshold:          20.0,
		VolumeSpikeMultiplier: 1.5,
		ATRMinValue:           0.0,

		Timeframe:         "1m",
		TakeProfitPct:     1.0,
		BaseOrderSizeUSDT: 25.0,
		OrderTimeoutSec:   30,
		UseMarketOrder:    true,

		SafetyStepPct:     2.0,
		SafetyOrdersCount: 3,
		VolumeMultiplier:  1.5,

		CommissionPct: 0.1,

		EnableFutures:       false,
		Leverage:            5,
		MarginMode:          MarginModeCross,
		FuturesPositionSide: PositionSideLong,

		Mode:    ModeSpot,
		RunMode: RunModeLive,

		CooldownMinutes:         0.0,
		AntiReentryThresholdPct: 0.2,

		PositionSizeMode:           PositionSizeModeFixed,
		RiskPerTradePct:            1.0,
		MaxTotalExposurePct:        30.0,
		ProtectionOrdersOnExchange: true,

		StopLossMode: StopLossModeOff,
		StopLossPct:  1.0,
	}
}
