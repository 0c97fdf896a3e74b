package dist

import (
	"math"
)

// StationarityResult carries the unit-root check outcome.
type StationarityResult struct {
	Statistic  float64 `json:"statistic"`
	PValue     float64 `json:"p_value"`
	Stationary bool    `json:"stationary"`
}

// Dickey-Fuller critical values for the intercept-only regression. The
// p-value is interpolated between these anchors; outside the table it is
// clamped to the nearest bound.
var dfCritical = []struct {
	stat float64
	p    float64
}{
	{-3.43, 0.01},
	{-2.86, 0.05},
	{-2.57, 0.10},
	{-1.94, 0.30},
	{-0.62, 0.90},
}

// CheckStationarity runs a Dickey-Fuller unit-root test with intercept and no
// lagged differences: regress dx_t on x_{t-1}, and compare the t-statistic of
// the slope against the DF critical values. Log-return series are expected to
// pass; raw price levels will not.
func CheckStationarity(series []float64, alpha float64) *StationarityResult {
	if alpha <= 0 {
		alpha = 0.05
	}
	n := len(series) - 1
	if n < 10 {
		// Too short for a meaningful test; treat as stationary and let the
		// sample-count gate reject the fit instead.
		return &StationarityResult{Statistic: 0, PValue: 1, Stationary: true}
	}

	// OLS of dx on lagged level with intercept.
	var sumX, sumY, sumXX, sumXY float64
	for i := 0; i < n; i++ {
		x := series[i]
		y := series[i+1] - series[i]
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return &StationarityResult{Statistic: 0, PValue: 1, Stationary: true}
	}
	beta := (fn*sumXY - sumX*sumY) / denom
	alphaHat := (sumY - beta*sumX) / fn

	// Standard error of the slope from the residuals.
	var rss float64
	for i := 0; i < n; i++ {
		x := series[i]
		y := series[i+1] - series[i]
		resid := y - alphaHat - beta*x
		rss += resid * resid
	}
	dof := fn - 2
	if dof < 1 {
		dof = 1
	}
	sigma2 := rss / dof
	meanX := sumX / fn
	var sxx float64
	for i := 0; i < n; i++ {
		d := series[i] - meanX
		sxx += d * d
	}
	if sxx == 0 || sigma2 == 0 {
		return &StationarityResult{Statistic: 0, PValue: 1, Stationary: true}
	}
	se := math.Sqrt(sigma2 / sxx)
	tStat := beta / se

	p := dfPValue(tStat)
	return &StationarityResult{
		Statistic:  tStat,
		PValue:     p,
		Stationary: p < alpha,
	}
}

func dfPValue(stat float64) float64 {
	if stat <= dfCritical[0].stat {
		return dfCritical[0].p
	}
	last := dfCritical[len(dfCritical)-1]
	if stat >= last.stat {
		return last.p
	}
	for i := 1; i < len(dfCritical); i++ {
		lo, hi := dfCritical[i-1], dfCritical[i]
		if stat <= hi.stat {
			frac := (stat - lo.stat) / (hi.stat - lo.stat)
			return lo.p + frac*(hi.p-lo.p)
		}
	}
	return last.p
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
