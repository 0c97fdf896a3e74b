package dist

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/rng"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		KurtosisSuccess: 1.0,
		KurtosisWarn:    0.5,
		MinSamples:      60,
		MinSamplesGarch: 252,
		StudentTDfMin:   2.5,
		DfUpper:         100,
		GarchPersistMax: 0.999,
		MaxIterations:   1000,
		FitTolerance:    1e-10,
		StationarityP:   0.05,
	}
}

func laplaceSamples(n int, loc, scale float64, seed uint64) []float64 {
	d := distuv.Laplace{Mu: loc, Scale: scale, Src: rng.NewSource(seed)}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

func normalSamples(n int, mean, std float64, seed uint64) []float64 {
	d := distuv.Normal{Mu: mean, Sigma: std, Src: rng.NewSource(seed)}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

func TestRegistry_KnownModels(t *testing.T) {
	for _, name := range []string{ModelLaplace, ModelStudentT, ModelNormal, ModelGarchT} {
		m, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}
}

func TestRegistry_UnknownModel(t *testing.T) {
	_, err := New("cauchy")
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestLaplace_FitRecoversParams(t *testing.T) {
	returns := laplaceSamples(5000, 0.001, 0.02, 7)
	l := &Laplace{}
	rec, err := l.Fit(returns, 42, FitOptions{Thresholds: testThresholds()})
	require.NoError(t, err)

	assert.InDelta(t, 0.001, l.Loc, 0.002)
	assert.InDelta(t, 0.02, l.Scale, 0.002)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, uint64(42), rec.Seed)
	assert.Equal(t, 5000, rec.FitWindow)
	assert.Less(t, rec.AIC, rec.BIC) // BIC penalizes harder at this n
	assert.True(t, rec.Converged)
}

func TestLaplace_InsufficientData(t *testing.T) {
	l := &Laplace{}
	_, err := l.Fit(laplaceSamples(30, 0, 0.02, 1), 1, FitOptions{Thresholds: testThresholds()})
	require.Error(t, err)
	assert.Equal(t, errs.TagInsufficientData, errs.TagOf(err))
}

func TestNormal_ThinTailsFail(t *testing.T) {
	// A Gaussian sample has ~0 excess kurtosis: the tail gate must not mark
	// the fit success.
	n := &Normal{}
	rec, err := n.Fit(normalSamples(2000, 0, 0.01, 3), 1, FitOptions{Thresholds: testThresholds()})
	require.Error(t, err)
	assert.Equal(t, errs.TagImplausibleParam, errs.TagOf(err))
	require.NotNil(t, rec)
	assert.Equal(t, StatusFail, rec.Status)
}

func TestStudentT_FitHeavyTails(t *testing.T) {
	src := distuv.StudentsT{Mu: 0, Sigma: 0.02, Nu: 5, Src: rng.NewSource(11)}
	returns := make([]float64, 3000)
	for i := range returns {
		returns[i] = src.Rand()
	}

	st := &StudentT{}
	rec, err := st.Fit(returns, 42, FitOptions{Thresholds: testThresholds()})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, st.Df, 2.0)
	assert.InDelta(t, 0.02, st.Scale, 0.005)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Greater(t, rec.Iterations, 0)
	assert.LessOrEqual(t, rec.Iterations, rec.MaxIterations)
}

func TestStationarity_TrendingSeriesFails(t *testing.T) {
	// A random walk level series has a unit root.
	walk := make([]float64, 500)
	steps := normalSamples(500, 0, 1, 5)
	for i := 1; i < len(walk); i++ {
		walk[i] = walk[i-1] + steps[i]
	}
	st := CheckStationarity(walk, 0.05)
	assert.False(t, st.Stationary)

	l := &Laplace{}
	_, err := l.Fit(walk, 1, FitOptions{Thresholds: testThresholds()})
	require.Error(t, err)
	assert.Equal(t, errs.TagNonStationary, errs.TagOf(err))
}

func TestStationarity_AllowTransformDifferences(t *testing.T) {
	walk := make([]float64, 800)
	steps := laplaceSamples(800, 0, 0.5, 9)
	for i := 1; i < len(walk); i++ {
		walk[i] = walk[i-1] + steps[i]
	}
	l := &Laplace{}
	rec, err := l.Fit(walk, 1, FitOptions{Thresholds: testThresholds(), AllowTransform: true})
	require.NoError(t, err)
	assert.True(t, rec.Differenced)
	assert.Equal(t, len(walk)-1, rec.FitWindow)
}

func TestFitWithFallback_EngagesLaplace(t *testing.T) {
	// Gaussian data fails the normal model's tail gate; the fallback must produce
	// a usable Laplace fit tagged with the original model.
	returns := normalSamples(2000, 0, 0.01, 13)
	model, rec, err := FitWithFallback(ModelNormal, returns, 42,
		FitOptions{Thresholds: testThresholds()}, true, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ModelLaplace, model.Name())
	assert.Equal(t, ModelNormal, rec.FallbackFrom)
}

func TestFitWithFallback_DisabledPropagates(t *testing.T) {
	returns := normalSamples(2000, 0, 0.01, 13)
	_, _, err := FitWithFallback(ModelNormal, returns, 42,
		FitOptions{Thresholds: testThresholds()}, false, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, errs.TagImplausibleParam, errs.TagOf(err))
}

func TestSamplePath_Reproducible(t *testing.T) {
	l := &Laplace{Loc: 0, Scale: 0.02, fit: true}
	a := make([]float64, 64)
	b := make([]float64, 64)
	l.SamplePath(42, 3, a)
	l.SamplePath(42, 3, b)
	assert.Equal(t, a, b)

	l.SamplePath(42, 4, b)
	assert.NotEqual(t, a, b)
}

func TestGarchT_SamplePathVarianceClusters(t *testing.T) {
	g := &GarchT{Mu: 0, Omega: 1e-6, Alpha: 0.08, Beta: 0.9, Df: 6, h0: 5e-5, fit: true}
	out := make([]float64, 512)
	g.SamplePath(42, 0, out)
	for _, r := range out {
		require.False(t, r != r, "NaN in GARCH sample")
	}
	again := make([]float64, 512)
	g.SamplePath(42, 0, again)
	assert.Equal(t, out, again)
}
