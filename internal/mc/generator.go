package mc

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/errs"
)

// Generator synthesizes price paths from a fitted distribution under the
// resource-aware storage policy.
type Generator struct {
	log zerolog.Logger
	th  config.Thresholds

	// AvailableRAM is the per-worker RAM budget the policy sizes against,
	// measured once at run start.
	AvailableRAM uint64
}

// NewGenerator builds a generator sized against availableRAM bytes.
func NewGenerator(availableRAM uint64, th config.Thresholds, log zerolog.Logger) *Generator {
	return &Generator{
		log:          log.With().Str("component", "mc.generator").Logger(),
		th:           th,
		AvailableRAM: availableRAM,
	}
}

// Footprint estimates the matrix size in bytes, with the safety factor.
func (g *Generator) Footprint(nPaths, nSteps int) uint64 {
	return uint64(float64(nPaths) * float64(nSteps) * 8 * g.th.FootprintSafety)
}

// PickStorage applies the policy rules in order against available RAM.
// persistent allows the >= 50% tier to spill to the compressed container
// instead of rejecting.
func (g *Generator) PickStorage(nPaths, nSteps int, persistent bool) (StorageTag, error) {
	if g.AvailableRAM == 0 {
		// Unknown RAM: stay conservative, spill to disk.
		return StorageMemmap, nil
	}
	footprint := g.Footprint(nPaths, nSteps)
	avail := float64(g.AvailableRAM)
	switch {
	case float64(footprint) < g.th.MemFractionInline*avail:
		return StorageMemory, nil
	case float64(footprint) < g.th.MemFractionMemmap*avail:
		return StorageMemmap, nil
	case persistent:
		return StorageContainer, nil
	default:
		return "", errs.Resource().WithDetail(
			"footprint", footprint,
			"path matrix must stay below 50% of available RAM",
			"reduce n_paths/n_steps or set persistent=true")
	}
}

// Generate draws the full price matrix. Every path's stream is derived from
// (seed, path index), so the result is numerically identical regardless of
// storage tag or chunk size.
func (g *Generator) Generate(s0 float64, model dist.Model, nPaths, nSteps int, seed uint64, persistent bool, outDir string) (*PricePaths, error) {
	if s0 <= 0 {
		return nil, errs.Config().WithDetail("s0", s0, "s0 must be positive", "set a positive starting price")
	}
	tag, err := g.PickStorage(nPaths, nSteps, persistent)
	if err != nil {
		return nil, err
	}

	pp := &PricePaths{
		NPaths: nPaths,
		NSteps: nSteps,
		S0:     s0,
		Seed:   seed,
		Tag:    tag,
	}

	g.log.Debug().
		Str("storage", string(tag)).
		Int("n_paths", nPaths).
		Int("n_steps", nSteps).
		Uint64("footprint_bytes", g.Footprint(nPaths, nSteps)).
		Msg("storage policy selected")

	switch tag {
	case StorageMemory:
		err = g.generateInMemory(pp, model)
	case StorageMemmap:
		err = g.generateMemmap(pp, model, outDir)
	case StorageContainer:
		err = g.generateContainer(pp, model, outDir)
	}
	if err != nil {
		return nil, err
	}

	pp.BankruptcyRate = float64(len(pp.Bankruptcies)) / float64(nPaths)
	if pp.BankruptcyRate > g.th.BankruptcyFailRate {
		return pp, errs.Numeric(errs.TagBankruptcy).WithDetail(
			"bankruptcy_rate", pp.BankruptcyRate,
			"bankrupt paths must stay below bankruptcy_fail_rate",
			"the distribution drift is implausible; check loc/scale")
	}
	if pp.BankruptcyRate > g.th.BankruptcyWarnRate {
		g.log.Warn().
			Float64("bankruptcy_rate", pp.BankruptcyRate).
			Msg("bankruptcy rate above warn threshold")
	}
	return pp, nil
}

// fillRow synthesizes one path into row (len nSteps+1) and returns the
// bankruptcy step, or -1. steps is a scratch buffer of len nSteps.
func (g *Generator) fillRow(model dist.Model, seed uint64, index int, s0 float64, steps, row []float64) (int, error) {
	model.SamplePath(seed, index, steps)

	row[0] = s0
	logPrice := math.Log(s0)
	bankruptStep := -1
	for j, r := range steps {
		if !finite(r) {
			return -1, errs.Numeric(errs.TagOverflow).WithDetail(
				"log_return", r, "sampled returns must be finite",
				"refit the distribution; parameters are degenerate")
		}
		if bankruptStep >= 0 {
			row[j+1] = 0
			continue
		}
		logPrice += r
		price := math.Exp(logPrice)
		if math.IsNaN(price) {
			return -1, errs.Numeric(errs.TagOverflow).WithDetail(
				"price", price, "intermediate prices must be finite",
				"refit the distribution; parameters are degenerate")
		}
		if price <= 0 || price >= g.th.OverflowCeiling {
			bankruptStep = j + 1
			row[j+1] = 0
			continue
		}
		row[j+1] = price
	}
	return bankruptStep, nil
}

func (g *Generator) generateInMemory(pp *PricePaths, model dist.Model) error {
	cols := pp.NSteps + 1
	pp.data = make([]float64, pp.NPaths*cols)
	steps := make([]float64, pp.NSteps)
	h := sha256.New()

	for i := 0; i < pp.NPaths; i++ {
		row := pp.data[i*cols : (i+1)*cols]
		bankrupt, err := g.fillRow(model, pp.Seed, i, pp.S0, steps, row)
		if err != nil {
			return err
		}
		if bankrupt >= 0 {
			pp.Bankruptcies = append(pp.Bankruptcies, Bankruptcy{Path: i, Step: bankrupt})
		}
		if err := hashRow(h, row); err != nil {
			return err
		}
	}
	pp.Hash = hex.EncodeToString(h.Sum(nil))
	return nil
}

// generateMemmap writes rows to a spill file in chunks sized to keep the
// working set under the inline RAM fraction.
func (g *Generator) generateMemmap(pp *PricePaths, model dist.Model, outDir string) error {
	pp.Path = spillPath(outDir, fmt.Sprintf("paths_%d_%dx%d.memmap", pp.Seed, pp.NPaths, pp.NSteps))
	f, err := os.Create(pp.Path)
	if err != nil {
		return fmt.Errorf("creating memmap spill file: %w", err)
	}

	chunkRows := g.chunkRows(pp.NSteps)
	cols := pp.NSteps + 1
	steps := make([]float64, pp.NSteps)
	row := make([]float64, cols)
	raw := make([]byte, cols*8)
	w := bufio.NewWriterSize(f, 1<<20)
	h := sha256.New()

	for i := 0; i < pp.NPaths; i++ {
		bankrupt, err := g.fillRow(model, pp.Seed, i, pp.S0, steps, row)
		if err != nil {
			f.Close()
			return err
		}
		if bankrupt >= 0 {
			pp.Bankruptcies = append(pp.Bankruptcies, Bankruptcy{Path: i, Step: bankrupt})
		}
		for j, v := range row {
			binary.LittleEndian.PutUint64(raw[j*8:], math.Float64bits(v))
		}
		if _, err := w.Write(raw); err != nil {
			f.Close()
			return fmt.Errorf("writing memmap row %d: %w", i, err)
		}
		h.Write(raw)

		// Chunk boundary: flush so the working set stays bounded.
		if chunkRows > 0 && (i+1)%chunkRows == 0 {
			if err := w.Flush(); err != nil {
				f.Close()
				return fmt.Errorf("flushing memmap chunk: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing memmap spill file: %w", err)
	}
	pp.Hash = hex.EncodeToString(h.Sum(nil))

	// Reopen read-only for row access.
	if err := f.Close(); err != nil {
		return err
	}
	rf, err := os.Open(pp.Path)
	if err != nil {
		return fmt.Errorf("reopening memmap spill file: %w", err)
	}
	pp.file = rf
	return nil
}

func (g *Generator) generateContainer(pp *PricePaths, model dist.Model, outDir string) error {
	pp.Path = spillPath(outDir, "paths.mpz")
	f, err := os.Create(pp.Path)
	if err != nil {
		return fmt.Errorf("creating path container: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	gz := gzip.NewWriter(bw)
	enc := msgpack.NewEncoder(gz)

	if err := enc.Encode(containerHeader{
		NPaths: pp.NPaths, NSteps: pp.NSteps, S0: pp.S0, Seed: pp.Seed,
	}); err != nil {
		return fmt.Errorf("encoding container header: %w", err)
	}

	steps := make([]float64, pp.NSteps)
	row := make([]float64, pp.NSteps+1)
	h := sha256.New()
	for i := 0; i < pp.NPaths; i++ {
		bankrupt, err := g.fillRow(model, pp.Seed, i, pp.S0, steps, row)
		if err != nil {
			return err
		}
		if bankrupt >= 0 {
			pp.Bankruptcies = append(pp.Bankruptcies, Bankruptcy{Path: i, Step: bankrupt})
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding container row %d: %w", i, err)
		}
		if err := hashRow(h, row); err != nil {
			return err
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing container gzip stream: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing container: %w", err)
	}
	pp.Hash = hex.EncodeToString(h.Sum(nil))
	return nil
}

// chunkRows sizes generation chunks so a chunk stays under the inline RAM
// fraction.
func (g *Generator) chunkRows(nSteps int) int {
	if g.AvailableRAM == 0 {
		return 4096
	}
	rowBytes := float64(nSteps+1) * 8
	rows := int(g.th.MemFractionInline * float64(g.AvailableRAM) / rowBytes)
	if rows < 1 {
		rows = 1
	}
	return rows
}

// FirstCrossingHistogram buckets bankruptcy steps for the metadata record.
func FirstCrossingHistogram(b []Bankruptcy, nSteps, buckets int) []int {
	if buckets <= 0 {
		buckets = 10
	}
	hist := make([]int, buckets)
	if nSteps <= 0 {
		return hist
	}
	for _, ev := range b {
		idx := ev.Step * buckets / (nSteps + 1)
		if idx >= buckets {
			idx = buckets - 1
		}
		hist[idx]++
	}
	return hist
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
