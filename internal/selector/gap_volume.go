package selector

import (
	"math"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/features"
)

func init() {
	Register("gap_volume", func(cfg config.SelectorConfig) Selector {
		return &GapVolume{cfg: cfg}
	})
}

// GapVolume is the default selector: rows where the absolute overnight gap
// clears gap_min with a confirming rolling volume z-score. Score is
// |gap| + max(volume_z, 0).
type GapVolume struct {
	cfg config.SelectorConfig
}

func (s *GapVolume) Name() string { return "gap_volume" }

func (s *GapVolume) FeatureRequirements() []string {
	return []string{features.GapPct, features.VolumeZ}
}

// MinLookback covers the volume z-score window plus the prior close the gap
// needs.
func (s *GapVolume) MinLookback() int { return features.VolumeZWindow + 1 }

func (s *GapVolume) Select(bars *domain.Bars) ([]domain.CandidateEpisode, error) {
	if len(bars.Bars) < s.MinLookback() {
		return nil, nil
	}

	gaps := features.Gap(bars)
	volZ := features.VolumeZScore(bars.Volumes(), features.VolumeZWindow)

	horizon := s.cfg.Horizon
	if horizon <= 0 {
		horizon = 10
	}

	var episodes []domain.CandidateEpisode
	for i := s.MinLookback(); i < len(bars.Bars); i++ {
		gap := gaps[i]
		z := volZ[i]
		if math.Abs(gap) < s.cfg.GapMin || z < s.cfg.VolumeZMin {
			continue
		}
		episodes = append(episodes, domain.CandidateEpisode{
			Symbol:       bars.Symbol,
			T0:           bars.Bars[i].Timestamp,
			Index:        i,
			Horizon:      horizon,
			SelectorName: s.Name(),
			Score:        math.Abs(gap) + math.Max(z, 0),
			StateFeatures: map[string]float64{
				features.GapPct:  gap,
				features.VolumeZ: z,
			},
		})
	}

	for i := range episodes {
		if err := episodes[i].Validate(len(bars.Bars), s.FeatureRequirements()); err != nil {
			return nil, err
		}
	}
	return episodes, nil
}
