package envelope

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/dist"
)

// Completion statuses.
const (
	StatusSuccess    = "success"
	StatusWarn       = "warn"
	StatusFail       = "fail"
	StatusIncomplete = "incomplete"
	StatusPartial    = "partial"
)

// Conditioning records how a conditional run sampled.
type Conditioning struct {
	Method         string `json:"method"`
	Matches        int    `json:"matches"`
	EpisodeCount   int    `json:"episode_count"`
	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// RunMetadata is the reproducibility record of one run. It is written
// atomically at run closure and never modified afterwards.
type RunMetadata struct {
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"created_at"`

	Config config.Resolved `json:"config"`

	FitRecord     *dist.FitRecord `json:"distribution_fit_record,omitempty"`
	FallbackModel string          `json:"fallback_model,omitempty"`

	PathStorage         string  `json:"path_storage,omitempty"`
	PathsHash           string  `json:"paths_hash,omitempty"`
	BankruptcyRate      float64 `json:"bankruptcy_rate"`
	BankruptcyHistogram []int   `json:"bankruptcy_histogram,omitempty"`

	DataFingerprint map[string]Fingerprint `json:"data_fingerprint"`

	CodeVersion     *CodeVersion `json:"code_version"`
	SourceVersionID string       `json:"source_version_id"`
	Environment     Environment  `json:"environment"`

	IVSource string `json:"iv_source,omitempty"`

	Conditioning *Conditioning           `json:"conditioning,omitempty"`
	DriftReports map[string]*DriftReport `json:"drift_reports,omitempty"`

	ArtifactPaths    []string `json:"artifact_paths,omitempty"`
	CompletionStatus string   `json:"completion_status"`
	Warnings         []string `json:"warnings,omitempty"`
	ErrorTag         string   `json:"error_tag,omitempty"`
}

// MetaFileName is the metadata envelope file inside a run directory.
const MetaFileName = "run_meta.json"

// WriteAtomic persists the metadata: marshal to a sibling temporary file,
// fsync, then rename into place. A crash mid-write leaves either the old
// record or none, never a torn one.
func (m *RunMetadata) WriteAtomic(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	final := filepath.Join(dir, MetaFileName)

	tmp, err := os.CreateTemp(dir, MetaFileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("renaming metadata into place: %w", err)
	}
	return final, nil
}

// LoadMetadata reads a prior run's envelope.
func LoadMetadata(path string) (*RunMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run metadata: %w", err)
	}
	var m RunMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding run metadata: %w", err)
	}
	return &m, nil
}
