package config

// Thresholds collects every externalized numerical threshold in one place.
// The resolved values are captured verbatim in run metadata so a replay sees
// exactly the constants the original run used.
type Thresholds struct {
	// Distribution fitting
	KurtosisSuccess float64 `json:"kurtosis_success" yaml:"kurtosis_success" default:"1.0"` // excess kurtosis >= this -> success
	KurtosisWarn    float64 `json:"kurtosis_warn" yaml:"kurtosis_warn" default:"0.5"`       // between warn and success -> warn
	MinSamples      int     `json:"min_samples" yaml:"min_samples" default:"60"`
	MinSamplesGarch int     `json:"min_samples_garch" yaml:"min_samples_garch" default:"252"`
	StudentTDfMin   float64 `json:"student_t_df_min" yaml:"student_t_df_min" default:"2.5"`
	DfUpper         float64 `json:"df_upper" yaml:"df_upper" default:"100"`
	GarchPersistMax float64 `json:"garch_persist_max" yaml:"garch_persist_max" default:"0.999"`
	MaxIterations   int     `json:"max_iterations" yaml:"max_iterations" default:"1000"`
	FitTolerance    float64 `json:"fit_tolerance" yaml:"fit_tolerance" default:"1e-10"`
	StationarityP   float64 `json:"stationarity_p" yaml:"stationarity_p" default:"0.05"`

	// Path generation
	OverflowCeiling    float64 `json:"overflow_ceiling" yaml:"overflow_ceiling" default:"1e18"`
	BankruptcyWarnRate float64 `json:"bankruptcy_warn_rate" yaml:"bankruptcy_warn_rate" default:"0.05"`
	BankruptcyFailRate float64 `json:"bankruptcy_fail_rate" yaml:"bankruptcy_fail_rate" default:"0.50"`

	// Storage policy (fractions of available per-worker RAM)
	MemFractionInline float64 `json:"mem_fraction_inline" yaml:"mem_fraction_inline" default:"0.25"`
	MemFractionMemmap float64 `json:"mem_fraction_memmap" yaml:"mem_fraction_memmap" default:"0.50"`
	FootprintSafety   float64 `json:"footprint_safety" yaml:"footprint_safety" default:"1.1"`

	// Conditional MC
	DistanceThreshold float64 `json:"distance_threshold" yaml:"distance_threshold" default:"2.0"` // z-space Euclidean
	MinMatch          int     `json:"min_match" yaml:"min_match" default:"10"`
	MinEpisodes       int     `json:"min_episodes" yaml:"min_episodes" default:"30"`

	// Trading costs
	SlippageBps    float64 `json:"slippage_bps" yaml:"slippage_bps" default:"5"`
	FeePerShare    float64 `json:"fee_per_share" yaml:"fee_per_share" default:"0.005"`
	FeePerContract float64 `json:"fee_per_contract" yaml:"fee_per_contract" default:"0.65"`

	// Wall-clock budget multipliers
	BudgetInfoMult  float64 `json:"budget_info_mult" yaml:"budget_info_mult" default:"1.5"`
	BudgetWarnMult  float64 `json:"budget_warn_mult" yaml:"budget_warn_mult" default:"2.0"`
	BudgetErrorMult float64 `json:"budget_error_mult" yaml:"budget_error_mult" default:"3.0"`

	// Drift detection
	CountDriftFrac float64 `json:"count_drift_frac" yaml:"count_drift_frac" default:"0.10"`
	DistDriftFrac  float64 `json:"dist_drift_frac" yaml:"dist_drift_frac" default:"0.20"`

	// Ranking
	Epsilon float64 `json:"epsilon" yaml:"epsilon" default:"1e-8"`
}

// ObjectiveWeights are the composite-ranking weights.
type ObjectiveWeights struct {
	PnL      float64 `json:"pnl" yaml:"pnl" default:"0.30"`
	Sharpe   float64 `json:"sharpe" yaml:"sharpe" default:"0.30"`
	Drawdown float64 `json:"drawdown" yaml:"drawdown" default:"0.20"`
	CVaR     float64 `json:"cvar" yaml:"cvar" default:"0.20"`
}
