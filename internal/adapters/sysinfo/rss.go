package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/manthysbr/metaingest/internal/core/ports"
)

// ProcessSampler reads the resident set size of the running process.
type ProcessSampler struct {
	proc *process.Process
}

// Ensure ProcessSampler implements ResourceSampler
var _ ports.ResourceSampler = (*ProcessSampler)(nil)

func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect current process: %w", err)
	}
	return &ProcessSampler{proc: p}, nil
}

func (s *ProcessSampler) RSSMegabytes() (float64, error) {
	mi, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return float64(mi.RSS) / (1024 * 1024), nil
}
