// Package resources measures the machine the engine runs on. The storage
// policy and the grid scheduler both size themselves against these readings,
// taken once at run start.
package resources

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot captures the machine ceilings at a point in time.
type Snapshot struct {
	TotalRAM     uint64 `json:"total_ram_bytes"`
	AvailableRAM uint64 `json:"available_ram_bytes"`
	CPUCount     int    `json:"cpu_count"`
}

// Detect reads total/available RAM and logical CPU count. When gopsutil
// cannot read the platform counters it falls back to runtime.NumCPU and a
// zero RAM reading, which the storage policy treats as "unknown, stay
// conservative".
func Detect() Snapshot {
	snap := Snapshot{CPUCount: runtime.NumCPU()}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.TotalRAM = vm.Total
		snap.AvailableRAM = vm.Available
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		snap.CPUCount = n
	}
	return snap
}

// WorkerCount applies the grid sizing rule: min(configured, cpu-2, 6),
// never below 1.
func (s Snapshot) WorkerCount(configured int) int {
	n := configured
	if n <= 0 {
		n = 6
	}
	if c := s.CPUCount - 2; c < n {
		n = c
	}
	if n > 6 {
		n = 6
	}
	if n < 1 {
		n = 1
	}
	return n
}

// PerWorkerRAM divides available RAM across the assumed worker population
// (detected_cpu - 2), so a single run's storage policy cannot starve its
// siblings in a grid.
func (s Snapshot) PerWorkerRAM() uint64 {
	workers := s.CPUCount - 2
	if workers < 1 {
		workers = 1
	}
	return s.AvailableRAM / uint64(workers)
}
