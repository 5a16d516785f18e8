package filecache

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/djherbis/atime"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/anvilbuild/anvil/src/fs"
)

// DefaultSweepInterval is how often the background sweeper samples memory, per §9's
// documented decision ("polling every 5 seconds by default").
const DefaultSweepInterval = 5 * time.Second

// DefaultLowMemoryThreshold is the fraction of total memory that must remain available
// before the sweeper starts preempting unpinned entries.
const DefaultLowMemoryThreshold = 0.10

// Sweeper periodically preempts unpinned Uncomp entries, oldest-access-first, whenever
// available system memory drops below thresholdFraction of total. It runs until ctx is
// cancelled, and is meant to be started once per Cache in its own goroutine. This
// supplements §4.5's "best-effort hint, invocation policy left to the implementation"
// with the concrete, testable policy §9 settles on: memory pressure sampled via
// gopsutil, eviction order via atime (oldest access first).
func (c *Cache) Sweeper(ctx context.Context, interval time.Duration, thresholdFraction float64) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if thresholdFraction <= 0 {
		thresholdFraction = DefaultLowMemoryThreshold
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(thresholdFraction)
		}
	}
}

func (c *Cache) sweepOnce(thresholdFraction float64) {
	if !belowThreshold(thresholdFraction) {
		return
	}
	for _, name := range c.candidatesOldestFirst() {
		e := c.Entry(name)
		if err := e.InitExisting(); err != nil {
			log.Warning("filecache: preempt of %s skipped: %s", name, err)
			continue
		}
		if err := e.Preempt(); err != nil {
			log.Warning("filecache: preempt of %s failed: %s", name, err)
		}
		if !belowThreshold(thresholdFraction) {
			return
		}
	}
}

func belowThreshold(thresholdFraction float64) bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Warning("filecache: could not sample memory for sweep: %s", err)
		return false
	}
	if vm.Total == 0 {
		return false
	}
	return float64(vm.Available)/float64(vm.Total) < thresholdFraction
}

// candidatesOldestFirst lists every currently-uncompressed entry under the cache
// directory, sorted by access time (oldest first). There's no index file (§6): state
// is derived entirely from file presence, so this is a directory scan rather than a
// lookup against some registry the cache would otherwise have to keep consistent.
func (c *Cache) candidatesOldestFirst() []string {
	if !fs.PathExists(c.Dir) {
		return nil
	}
	type candidate struct {
		name  string
		atime time.Time
	}
	var candidates []candidate
	_ = fs.Walk(c.Dir, func(name string, isDir bool) error {
		if isDir || strings.HasSuffix(name, ".tmp") ||
			strings.HasSuffix(name, "."+string(FormatLZ4)) ||
			strings.HasSuffix(name, "."+string(FormatZSTD)) {
			return nil
		}
		rel, err := filepath.Rel(c.Dir, name)
		if err != nil {
			return nil
		}
		a, err := atime.Stat(name)
		if err != nil {
			return nil
		}
		candidates = append(candidates, candidate{name: rel, atime: a})
		return nil
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].atime.Before(candidates[j].atime) })
	names := make([]string, len(candidates))
	for i, cand := range candidates {
		names[i] = cand.name
	}
	return names
}
