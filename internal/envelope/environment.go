package envelope

import (
	"fmt"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// numericStack names the dependencies whose versions are pinned into the
// metadata record. Reproducibility claims only hold for matching pins.
var numericStack = []string{
	"gonum.org/v1/gonum",
	"github.com/markcheno/go-talib",
	"github.com/vmihailenco/msgpack/v5",
	"modernc.org/sqlite",
}

// Environment captures the machine and toolchain a run executed on.
type Environment struct {
	OS        string            `json:"os"`
	OSVersion string            `json:"os_version"`
	Arch      string            `json:"arch"`
	GoVersion string            `json:"go_version"`
	CPUCount  int               `json:"cpu_count"`
	TotalRAM  uint64            `json:"total_ram_bytes"`
	DepPins   map[string]string `json:"dependency_pins"`
}

// CodeVersion is the best-effort source-control state. Nil when no
// repository is present.
type CodeVersion struct {
	Revision      string   `json:"revision"`
	Dirty         bool     `json:"dirty"`
	ModifiedFiles []string `json:"modified_files,omitempty"`
}

// CaptureEnvironment reads the host, toolchain and pinned numeric-stack
// versions.
func CaptureEnvironment() Environment {
	env := Environment{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		CPUCount:  runtime.NumCPU(),
		DepPins:   map[string]string{},
	}
	if info, err := host.Info(); err == nil {
		env.OS = info.Platform
		env.OSVersion = info.PlatformVersion
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		env.CPUCount = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		env.TotalRAM = vm.Total
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		wanted := map[string]bool{}
		for _, d := range numericStack {
			wanted[d] = true
		}
		for _, dep := range bi.Deps {
			if wanted[dep.Path] {
				env.DepPins[dep.Path] = dep.Version
			}
		}
	}
	return env
}

// CaptureCodeVersion shells out to git. A dirty tree records the revision,
// the dirty flag and the modified files; a missing repository returns nil
// and logs a warning.
func CaptureCodeVersion(log zerolog.Logger) *CodeVersion {
	rev, err := gitOutput("rev-parse", "--short=12", "HEAD")
	if err != nil {
		log.Warn().Msg("no source-control revision available; code_version recorded as null")
		return nil
	}
	cv := &CodeVersion{Revision: rev}

	status, err := gitOutput("status", "--porcelain")
	if err == nil && status != "" {
		cv.Dirty = true
		for _, line := range strings.Split(status, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if i := strings.LastIndexByte(line, ' '); i >= 0 {
				cv.ModifiedFiles = append(cv.ModifiedFiles, line[i+1:])
			}
		}
	}
	return cv
}

func gitOutput(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// EngineVersion is the engine's semantic version, stamped into the source
// version identifier.
const EngineVersion = "1.0.0"

// SourceVersionID renders the {provider}_{semver}_{iso8601_date}_{revision}
// identifier. Revision falls back to "norev" when no repository is present.
func SourceVersionID(provider string, at time.Time, cv *CodeVersion) string {
	rev := "norev"
	if cv != nil && cv.Revision != "" {
		rev = cv.Revision
	}
	return fmt.Sprintf("%s_%s_%s_%s", provider, EngineVersion, at.Format("2006-01-02"), rev)
}
