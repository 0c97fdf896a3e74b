// Package dist implements the return-distribution models: fitting by maximum
// likelihood with bounded optimization, heavy-tail validation, and
// reproducible sampling. Models are discoverable by name through a registry
// populated at init and frozen thereafter.
package dist

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
)

// FitStatus classifies a completed fit.
type FitStatus string

const (
	StatusSuccess FitStatus = "success"
	StatusWarn    FitStatus = "warn"
	StatusFail    FitStatus = "fail"
)

// Model names.
const (
	ModelLaplace  = "laplace"
	ModelStudentT = "student_t"
	ModelNormal   = "normal"
	ModelGarchT   = "garch_t"
)

// FitOptions parametrize a fit call.
type FitOptions struct {
	MinSamples     int  // 0 = model default
	AllowTransform bool // take first differences when the series is non-stationary
	Thresholds     config.Thresholds
}

// FitRecord is the immutable artifact of a fit: parameters, likelihood,
// status, and the exact convergence settings used.
type FitRecord struct {
	Model          string             `json:"model"`
	Params         map[string]float64 `json:"params"`
	FitWindow      int                `json:"fit_window"`
	Seed           uint64             `json:"seed"`
	LogLikelihood  float64            `json:"log_likelihood"`
	AIC            float64            `json:"aic"`
	BIC            float64            `json:"bic"`
	Status         FitStatus          `json:"fit_status"`
	ExcessKurtosis float64            `json:"excess_kurtosis"`            // empirical, over the fit window
	ModelKurtosis  *float64           `json:"model_kurtosis,omitempty"`   // model-implied; absent when undefined
	Iterations     int                `json:"iterations"`                 // optimizer iterations consumed
	MaxIterations  int                `json:"max_iterations"`             // iteration cap
	Tolerance      float64            `json:"tolerance"`                  // convergence tolerance
	Converged      bool               `json:"converged"`
	Differenced    bool               `json:"differenced"`                // first differences were taken
	FallbackFrom   string             `json:"fallback_from,omitempty"`    // original model when the Laplace fallback engaged
	ADFStatistic   float64            `json:"adf_statistic"`
	ADFPValue      float64            `json:"adf_p_value"`
}

// Model is a fitted return distribution. Fit must be called before
// SamplePath; models are immutable after a successful fit.
type Model interface {
	Name() string
	Fit(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error)
	Params() map[string]float64
	// SamplePath fills out with nSteps log-returns for the path at the given
	// global index. The stream is fully determined by (seed, pathIndex), so
	// sampling is invariant to chunking and to the layout of the caller's
	// buffers.
	SamplePath(seed uint64, pathIndex int, out []float64)
}

// Factory builds an unfitted model.
type Factory func() Model

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a model factory under a name. Called from init functions;
// the registry is effectively frozen once the process is serving runs.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New instantiates a registered model by name.
func New(name string) (Model, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.Config().WithDetail("distribution", name,
			"distribution must name a registered model", "use one of "+namesList())
	}
	return f(), nil
}

// Names returns the registered model names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func namesList() string {
	s := ""
	for i, n := range Names() {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s
}

// FitWithFallback fits the named model and, when the fit fails and fallback
// is enabled, falls back to a Laplace method-of-moments fit. The fallback is
// recorded on the returned FitRecord and logged.
func FitWithFallback(name string, returns []float64, seed uint64, opts FitOptions, fallback bool, log zerolog.Logger) (Model, *FitRecord, error) {
	model, err := New(name)
	if err != nil {
		return nil, nil, err
	}
	rec, err := model.Fit(returns, seed, opts)
	if err == nil {
		return model, rec, nil
	}
	if !fallback || errs.KindOf(err) != errs.KindFit {
		return nil, rec, err
	}

	log.Warn().
		Str("component", "dist").
		Str("model", name).
		Str("error_tag", errs.TagOf(err)).
		Msg("fit failed, falling back to Laplace method-of-moments")

	lp := &Laplace{}
	frec, ferr := lp.fitMethodOfMoments(returns, seed, opts)
	if ferr != nil {
		return nil, rec, err // original failure wins when even the fallback cannot fit
	}
	frec.FallbackFrom = name
	return lp, frec, nil
}

// validateReturns rejects short or non-finite inputs.
func validateReturns(returns []float64, minSamples int) error {
	if len(returns) < minSamples {
		return errs.Fit(errs.TagInsufficientData).WithDetail(
			"returns", len(returns),
			"sample count must be >= min_samples",
			"widen the fit window or lower min_samples")
	}
	for _, r := range returns {
		if !finite(r) {
			return errs.Fit(errs.TagInsufficientData).WithDetail(
				"returns", r, "returns must be finite",
				"clean the input series before fitting")
		}
	}
	return nil
}

// heavyTailStatus applies the fat-tail gate to the empirical excess kurtosis
// of the fit window. The model-implied kurtosis is recorded separately; the
// gate follows the sample statistic so that a thin-tailed series cannot be
// promoted by a heavy-tailed functional form.
func heavyTailStatus(excessKurtosis float64, th config.Thresholds) FitStatus {
	switch {
	case excessKurtosis >= th.KurtosisSuccess:
		return StatusSuccess
	case excessKurtosis >= th.KurtosisWarn:
		return StatusWarn
	default:
		return StatusFail
	}
}

// prepareReturns runs the shared pre-fit pipeline: sample validation, the
// stationarity gate, and optional first-differencing.
func prepareReturns(returns []float64, opts FitOptions) ([]float64, *StationarityResult, bool, error) {
	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = opts.Thresholds.MinSamples
	}
	if minSamples <= 0 {
		minSamples = 60
	}
	if err := validateReturns(returns, minSamples); err != nil {
		return nil, nil, false, err
	}

	st := CheckStationarity(returns, opts.Thresholds.StationarityP)
	if !st.Stationary {
		if !opts.AllowTransform {
			return nil, st, false, errs.Fit(errs.TagNonStationary).WithDetail(
				"returns", st.Statistic,
				"series must be stationary (unit-root test)",
				"set allow_transform=true to difference the series")
		}
		diffed := make([]float64, len(returns)-1)
		for i := 1; i < len(returns); i++ {
			diffed[i-1] = returns[i] - returns[i-1]
		}
		if err := validateReturns(diffed, minSamples); err != nil {
			return nil, st, true, err
		}
		return diffed, st, true, nil
	}
	return returns, st, false, nil
}

func sampleKurtosis(returns []float64) float64 {
	return stat.ExKurtosis(returns, nil)
}
