// Package mc implements Monte Carlo path synthesis: the vectorized
// generator, the resource-aware storage policy, and conditional sampling
// from candidate episodes.
package mc

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/scenario/internal/errs"
)

// StorageTag discriminates where a path matrix lives.
type StorageTag string

const (
	StorageMemory    StorageTag = "memory"
	StorageMemmap    StorageTag = "memmap"
	StorageContainer StorageTag = "container" // gzip'd msgpack, persistent
)

// Bankruptcy records the step at which a path first crossed zero (or the
// overflow ceiling). The path is zero from that step on.
type Bankruptcy struct {
	Path int `json:"path"`
	Step int `json:"step"`
}

// PricePaths is a rectangular (n_paths x n_steps+1) matrix of positive
// prices; column zero is s0. Row access serves the memory and memmap
// backends; the container backend is read sequentially through ForEachRow
// without materializing the matrix.
type PricePaths struct {
	NPaths int        `json:"n_paths"`
	NSteps int        `json:"n_steps"`
	S0     float64    `json:"s0"`
	Seed   uint64     `json:"seed"`
	Tag    StorageTag `json:"storage"`

	Bankruptcies   []Bankruptcy `json:"bankruptcies,omitempty"`
	BankruptcyRate float64      `json:"bankruptcy_rate"`
	Hash           string       `json:"paths_hash"` // sha256 over row-major float64 bytes

	data []float64 // memory backend
	file *os.File  // memmap backend
	Path string    `json:"path,omitempty"` // backing file (memmap or container)
}

func (p *PricePaths) rowBytes() int { return (p.NSteps + 1) * 8 }

// Row reads path i into buf (len n_steps+1). buf is returned for chaining.
func (p *PricePaths) Row(i int, buf []float64) ([]float64, error) {
	if i < 0 || i >= p.NPaths {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, p.NPaths)
	}
	switch p.Tag {
	case StorageMemory:
		copy(buf, p.data[i*(p.NSteps+1):(i+1)*(p.NSteps+1)])
		return buf, nil
	case StorageMemmap:
		raw := make([]byte, p.rowBytes())
		if _, err := p.file.ReadAt(raw, int64(i)*int64(p.rowBytes())); err != nil {
			return nil, fmt.Errorf("memmap read row %d: %w", i, err)
		}
		for j := range buf {
			buf[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw[j*8:]))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("storage %q does not support random row access", p.Tag)
	}
}

// ForEachRow streams every path in order. This is the only access method the
// container backend supports, and the cheapest one for the others.
func (p *PricePaths) ForEachRow(fn func(i int, row []float64) error) error {
	switch p.Tag {
	case StorageMemory, StorageMemmap:
		buf := make([]float64, p.NSteps+1)
		for i := 0; i < p.NPaths; i++ {
			if _, err := p.Row(i, buf); err != nil {
				return err
			}
			if err := fn(i, buf); err != nil {
				return err
			}
		}
		return nil
	case StorageContainer:
		return p.forEachContainerRow(fn)
	default:
		return fmt.Errorf("unknown storage tag %q", p.Tag)
	}
}

// Close releases the backing file, if any.
func (p *PricePaths) Close() error {
	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}
	return nil
}

// containerHeader precedes the row stream in the persistent format.
type containerHeader struct {
	NPaths int     `msgpack:"n_paths"`
	NSteps int     `msgpack:"n_steps"`
	S0     float64 `msgpack:"s0"`
	Seed   uint64  `msgpack:"seed"`
}

func (p *PricePaths) forEachContainerRow(fn func(i int, row []float64) error) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("opening path container: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("reading path container: %w", err)
	}
	defer gz.Close()

	dec := msgpack.NewDecoder(gz)
	var hdr containerHeader
	if err := dec.Decode(&hdr); err != nil {
		return fmt.Errorf("decoding container header: %w", err)
	}
	if hdr.NPaths != p.NPaths || hdr.NSteps != p.NSteps {
		return errs.Data().WithDetail("container", p.Path,
			"container shape must match recorded shape",
			"regenerate the paths from the recorded seed")
	}
	for i := 0; i < hdr.NPaths; i++ {
		var row []float64
		if err := dec.Decode(&row); err != nil {
			return fmt.Errorf("decoding container row %d: %w", i, err)
		}
		if err := fn(i, row); err != nil {
			return err
		}
	}
	return nil
}

// LoadContainer opens a persisted path container and rebuilds the PricePaths
// descriptor from its header.
func LoadContainer(path string) (*PricePaths, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening path container: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading path container: %w", err)
	}
	defer gz.Close()

	var hdr containerHeader
	if err := msgpack.NewDecoder(gz).Decode(&hdr); err != nil {
		return nil, fmt.Errorf("decoding container header: %w", err)
	}
	pp := &PricePaths{
		NPaths: hdr.NPaths,
		NSteps: hdr.NSteps,
		S0:     hdr.S0,
		Seed:   hdr.Seed,
		Tag:    StorageContainer,
		Path:   path,
	}
	h := sha256.New()
	if err := pp.ForEachRow(func(_ int, row []float64) error {
		return hashRow(h, row)
	}); err != nil {
		return nil, err
	}
	pp.Hash = hex.EncodeToString(h.Sum(nil))
	return pp, nil
}

func hashRow(w io.Writer, row []float64) error {
	raw := make([]byte, len(row)*8)
	for j, v := range row {
		binary.LittleEndian.PutUint64(raw[j*8:], math.Float64bits(v))
	}
	_, err := w.Write(raw)
	return err
}

// tempDir returns the directory for spill files, preferring the run's output
// directory when one is set.
func tempDir(outDir string) string {
	if outDir != "" {
		return outDir
	}
	return os.TempDir()
}

func spillPath(outDir, name string) string {
	return filepath.Join(tempDir(outDir), name)
}
