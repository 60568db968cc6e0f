package mempressure

import (
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// Sampler reports the resident set size of the process in bytes.
type Sampler interface {
	ResidentBytes() (uint64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (uint64, error)

func (f SamplerFunc) ResidentBytes() (uint64, error) { return f() }

type processSampler struct {
	once sync.Once
	proc *process.Process
	err  error
}

// NewProcessSampler reads RSS of the current process through gopsutil. The
// process handle is opened on first use.
func NewProcessSampler() Sampler {
	return &processSampler{}
}

func (s *processSampler) ResidentBytes() (uint64, error) {
	s.once.Do(func() {
		s.proc, s.err = process.NewProcess(int32(os.Getpid()))
	})
	if s.err != nil {
		return 0, fmt.Errorf("open process handle: %w", s.err)
	}
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
