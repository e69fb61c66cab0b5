// Package resource implements the resource governor: hardware detection at
// startup, worker-count derivation, and a memory-pressure gate consulted by
// the LLM adapter and pipeline driver.
package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryGateResult is the outcome of a memory-pressure check.
type MemoryGateResult string

const (
	GateOK       MemoryGateResult = "ok"
	GateThrottle MemoryGateResult = "throttle"
	GateDeny     MemoryGateResult = "deny"
)

const (
	throttleThresholdPct = 70.0
	denyThresholdPct     = 85.0

	// threadsPerWorker is the empirical thread cost of the
	// Metal/Accelerate-style BLAS math one segment's processing incurs.
	threadsPerWorker = 5.0
)

// Governor detects hardware once at startup and caches it.
type Governor struct {
	mu sync.Mutex

	cores         int
	localLLM      bool
	parallelLanes int

	// memPercentFn is overridable in tests.
	memPercentFn func() (float64, error)
}

// New detects the machine's physical core count via gopsutil and returns a
// ready-to-use Governor. localLLM/parallelLanes describe whether a local
// (e.g. ollama) model is configured.
func New(localLLM bool, parallelLanes int) (*Governor, error) {
	counts, err := cpu.Counts(false) // physical cores only
	if err != nil {
		return nil, err
	}
	if counts <= 0 {
		counts = 1
	}

	g := &Governor{
		cores:         counts,
		localLLM:      localLLM,
		parallelLanes: parallelLanes,
	}
	g.memPercentFn = defaultMemPercent

	slog.Info("resource governor initialized",
		"cores", counts, "local_llm", localLLM, "parallel_lanes", parallelLanes)

	return g, nil
}

func defaultMemPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// WorkerCount derives the ideal number of concurrent segment-mining workers
// from core count, the per-core tier caps, and the local-lane clamp.
// maxWorkers, if > 0, is a hard cap from job config.
func (g *Governor) WorkerCount(maxWorkers int) int {
	g.mu.Lock()
	cores := g.cores
	localLLM := g.localLLM
	lanes := g.parallelLanes
	g.mu.Unlock()

	ideal := int((float64(cores) * 1.5) / threadsPerWorker)
	if ideal < 1 {
		ideal = 1
	}

	cap := tierCap(cores)
	if !localLLM {
		cap = 16
	}
	if ideal > cap {
		ideal = cap
	}

	if localLLM && lanes > 0 {
		if limit := 2 * lanes; ideal > limit {
			ideal = limit
		}
	}

	if maxWorkers > 0 && ideal > maxWorkers {
		ideal = maxWorkers
	}
	if ideal < 1 {
		ideal = 1
	}
	return ideal
}

func tierCap(cores int) int {
	switch {
	case cores >= 20:
		return 8
	case cores >= 12:
		return 6
	case cores >= 8:
		return 4
	default:
		return 2
	}
}

// CheckMemory reports memory pressure: ok below 70% used, throttle between
// 70% and 85%, deny above 85%.
func (g *Governor) CheckMemory() (MemoryGateResult, error) {
	pct, err := g.memPercentFn()
	if err != nil {
		return GateOK, err
	}
	switch {
	case pct > denyThresholdPct:
		return GateDeny, nil
	case pct >= throttleThresholdPct:
		return GateThrottle, nil
	default:
		return GateOK, nil
	}
}

// WaitForMemory blocks up to timeout, polling every interval, until the
// memory gate reports something other than deny, or returns false if the
// condition persists to the deadline.
func (g *Governor) WaitForMemory(ctx context.Context, timeout, interval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		result, err := g.CheckMemory()
		if err != nil {
			return false, err
		}
		if result != GateDeny {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}
