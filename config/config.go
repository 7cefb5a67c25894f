// Package config parses the runtime's environment-variable surface using
// a struct-tag-driven approach (github.com/caarlos0/env), plus the
// CPU-list grammar used for FibreCpuSet.
package config

import (
	"strconv"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v7"
)

// Env holds every recognized environment variable from spec.md §6, with
// the documented defaults.
type Env struct {
	DebugString string `env:"FibreDebugString"`
	StatsSignal int    `env:"FibreStatsSignal" envDefault:"0"`
	PollerCount     int    `env:"FibrePollerCount" envDefault:"1"`
	WorkerCount     int    `env:"FibreWorkerCount" envDefault:"0"`
	DiskWorkerCount int    `env:"FibreDiskWorkerCount" envDefault:"1"`
	CpuSet          string `env:"FibreCpuSet"`
	PrintStats      string `env:"FibrePrintStats"`
}

// Load parses Env from the process environment, applying spec.md's
// documented defaults for fields env.Parse leaves at their zero value.
func Load() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.StatsSignal == 0 {
		cfg.StatsSignal = int(syscall.SIGUSR1)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return cfg, nil
}

// PrintStatsEnabled reports whether FibrePrintStats requests a dump at
// all, and whether it additionally requests totals (a leading 't'/'T').
func (e *Env) PrintStatsEnabled() (enabled, totals bool) {
	if e.PrintStats == "" {
		return false, false
	}
	first := e.PrintStats[0]
	return true, first == 't' || first == 'T'
}

// CPURange is one parsed item from FibreCpuSet: a single CPU (Lo==Hi) or
// an inclusive range.
type CPURange struct {
	Lo, Hi int
}

// ParseCPUList parses the `n[-m](,n[-m])*` grammar from spec.md §6. Any
// malformed item invalidates the whole list (returns an empty slice),
// matching spec.md's "malformed → empty list"; duplicate items are kept
// as given, not deduplicated.
func ParseCPUList(s string) []CPURange {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	items := strings.Split(s, ",")
	out := make([]CPURange, 0, len(items))
	for _, item := range items {
		r, ok := parseCPURangeItem(item)
		if !ok {
			return nil
		}
		out = append(out, r)
	}
	return out
}

func parseCPURangeItem(item string) (CPURange, bool) {
	if item == "" || strings.ContainsAny(item, " \t") {
		return CPURange{}, false
	}
	if idx := strings.IndexByte(item, '-'); idx >= 0 {
		loStr, hiStr := item[:idx], item[idx+1:]
		lo, err1 := strconv.Atoi(loStr)
		hi, err2 := strconv.Atoi(hiStr)
		if err1 != nil || err2 != nil || lo < 0 || hi < lo {
			return CPURange{}, false
		}
		return CPURange{Lo: lo, Hi: hi}, true
	}
	n, err := strconv.Atoi(item)
	if err != nil || n < 0 {
		return CPURange{}, false
	}
	return CPURange{Lo: n, Hi: n}, true
}

// Expand flattens a parsed CPU list into individual CPU indices, in
// order, with duplicates preserved.
func Expand(ranges []CPURange) []int {
	var out []int
	for _, r := range ranges {
		for c := r.Lo; c <= r.Hi; c++ {
			out = append(out, c)
		}
	}
	return out
}
