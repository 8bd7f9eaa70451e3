// Package sampler provides the default gopsutil-backed implementation of
// the external "sampler" collaborator described in spec.md §1, returning
// CPU%, RSS, and uptime for a PID (§6 `ps`). Like the
// recipe enumerator, this is explicitly out of scope for the supervisor
// core and is consumed only through the Sampler interface.
package sampler

import (
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// Sample is one point-in-time resource reading for a job's root process
// (§1 "CPU%, RSS, and uptime").
type Sample struct {
	PID        int
	CPUPercent float64
	RSSBytes   uint64
	UptimeSec  float64
}

// Sampler reports resource usage for a live pid.
type Sampler interface {
	Sample(pid int) (Sample, error)
}

// GopsutilSampler is the default Sampler implementation.
type GopsutilSampler struct{}

// Sample reports CPU%, RSS, and uptime for pid using gopsutil/v3/process.
// The reading covers pid alone; descendants are not included. The
// supervisor's `ps` passes the job's root pid.
func (GopsutilSampler) Sample(pid int) (Sample, error) {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, err
	}
	cpuPct, err := proc.CPUPercent()
	if err != nil {
		cpuPct = 0
	}
	memInfo, err := proc.MemoryInfo()
	var rss uint64
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	}
	createdMillis, err := proc.CreateTime()
	var uptime float64
	if err == nil {
		uptime = time.Since(time.UnixMilli(createdMillis)).Seconds()
	}
	return Sample{PID: pid, CPUPercent: cpuPct, RSSBytes: rss, UptimeSec: uptime}, nil
}
