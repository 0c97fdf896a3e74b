package strategy

import (
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/mc"
)

func init() {
	Register("momentum_call", domain.KindOption, func() Strategy { return &MomentumCall{} })
}

// MomentumCall is the baseline option strategy: long the call while the last
// step's return is non-negative, flat otherwise. An optional
// exercise_intrinsic_ratio parameter asserts early exercise once intrinsic
// value reaches that multiple of the current premium.
type MomentumCall struct {
	exerciseRatio float64
}

func (s *MomentumCall) Name() string { return "momentum_call" }
func (s *MomentumCall) Kind() string { return domain.KindOption }

func (s *MomentumCall) RequiredFeatures() []string { return nil }
func (s *MomentumCall) OptionalFeatures() []string { return nil }

func (s *MomentumCall) GenerateSignals(paths *mc.PricePaths, feats map[string]float64, params domain.StrategyParams, spec *domain.OptionSpec) (*Signals, error) {
	if spec == nil {
		return nil, errs.Config().WithDetail("option_spec", nil,
			"option strategies require an option_spec",
			"add option_spec to the run configuration")
	}
	used, err := checkFeatures(s, feats)
	if err != nil {
		return nil, err
	}
	s.exerciseRatio = params.Get("exercise_intrinsic_ratio", 0)

	sig := &Signals{FeaturesUsed: used, OptionSpec: spec}
	sig.Stock = make([][]int8, paths.NPaths)
	sig.Option = make([][]int8, paths.NPaths)

	err = paths.ForEachRow(func(i int, row []float64) error {
		option := make([]int8, paths.NSteps)
		for t := 0; t < paths.NSteps; t++ {
			if row[t] <= 0 {
				continue // bankrupt: flat
			}
			if t == 0 || row[t] >= row[t-1] {
				option[t] = 1
			}
		}
		sig.Option[i] = option
		sig.Stock[i] = make([]int8, paths.NSteps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// PositionState is the snapshot the metrics engine hands to
// CheckEarlyExercise at every held step.
type PositionState struct {
	Path      int
	Step      int
	Spot      float64
	Strike    float64
	Intrinsic float64
	Premium   float64
}

// EarlyExerciser is implemented by strategies that may stop an option
// position before maturity. Exercise realizes intrinsic value at that step
// and flattens the position.
type EarlyExerciser interface {
	CheckEarlyExercise(st PositionState) bool
}

// CheckEarlyExercise asserts exercise once intrinsic value reaches the
// configured multiple of the live premium. Ratio zero disables it.
func (s *MomentumCall) CheckEarlyExercise(st PositionState) bool {
	if s.exerciseRatio <= 0 || st.Premium <= 0 {
		return false
	}
	return st.Intrinsic >= s.exerciseRatio*st.Premium
}
