package governor

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemorySample is a point-in-time memory reading against configured
// thresholds.
type MemorySample struct {
	RSSBytes       uint64
	VirtualBytes   uint64
	SystemPercent  float64
	ProcessPercent float64
}

// Thresholds are the fractions of configured ceilings that trigger
// alerts.
type Thresholds struct {
	MemoryPercent float64
	CPUPercent    float64
	PoolFraction  float64
}

// DefaultThresholds matches conservative operational defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MemoryPercent: 85, CPUPercent: 85, PoolFraction: 0.9}
}

// Inspector reads process and system resource usage via gopsutil.
type Inspector struct {
	proc *process.Process
}

// NewInspector binds an Inspector to the current process.
func NewInspector() (*Inspector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Inspector{proc: p}, nil
}

// SampleMemory reads RSS/virtual memory for this process plus
// system-wide used percent.
func (i *Inspector) SampleMemory() (MemorySample, error) {
	info, err := i.proc.MemoryInfo()
	if err != nil {
		return MemorySample{}, err
	}
	procPercent, err := i.proc.MemoryPercent()
	if err != nil {
		procPercent = 0
	}
	vm, err := mem.VirtualMemory()
	sysPercent := 0.0
	if err == nil {
		sysPercent = vm.UsedPercent
	}
	return MemorySample{
		RSSBytes:       info.RSS,
		VirtualBytes:   info.VMS,
		SystemPercent:  sysPercent,
		ProcessPercent: float64(procPercent),
	}, nil
}

// SampleCPUPercent returns the system-wide CPU usage percent since the
// previous call, without blocking (cpu.Percent with a zero interval).
func (i *Inspector) SampleCPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}
