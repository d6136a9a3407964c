package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ClampMaxMemory halves AvailableMemory() and lowers cfg.MaxMemory to
// that ceiling if it's set higher, the supplemented feature from
// original_source/src/gibson.c's main() ("max_memory setting is higher
// than total available memory, dropping to %s"). Returns whether a clamp
// happened, for the startup banner to log a warning about it.
func ClampMaxMemory(cfg *Config) (clamped bool) {
	available := AvailableMemory()
	if available <= 0 {
		return false
	}
	ceiling := available / 2
	if cfg.MaxMemory > ceiling {
		cfg.MaxMemory = ceiling
		return true
	}
	return false
}

// AvailableMemory returns the system's available memory in bytes, read
// from /proc/meminfo's MemAvailable line. Returns 0 if unavailable (a
// non-Linux platform, or a container without /proc mounted) — the
// original has no equivalent fallback either; ClampMaxMemory simply
// skips clamping in that case rather than guessing.
func AvailableMemory() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
