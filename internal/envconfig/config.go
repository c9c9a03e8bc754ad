// Package envconfig reads the engine's configuration from KERNELTUNE_* environment variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding quotes and spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel is read from KERNELTUNE_DEBUG: 1 or true for debug, 2 for trace.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("KERNELTUNE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// BoolWithDefault returns a getter for a boolean variable with a default.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable that defaults to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a getter for a string variable.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint returns a getter for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 returns a getter for a 64-bit unsigned variable with a default.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

var (
	// TuneRounds is the number of timed calls per tuning candidate.
	TuneRounds = Uint("KERNELTUNE_TUNE_ROUNDS", 5)
	// WarmupRounds is the number of untimed calls before timing a candidate.
	WarmupRounds = Uint("KERNELTUNE_WARMUP_ROUNDS", 1)
	// DeviceMemory caps the bytes each emulated device context may allocate.
	DeviceMemory = Uint64("KERNELTUNE_DEVICE_MEMORY", 1<<30)
	// Cache is the sqlite file persisting tuned records. Empty disables persistence.
	Cache = String("KERNELTUNE_CACHE")
	// Profiling logs per-operator times after every run.
	Profiling = Bool("KERNELTUNE_PROFILING")
)

// NumThreads is the worker count for parallel host kernels, NumCPU by default.
func NumThreads() int {
	n := Uint("KERNELTUNE_NUM_THREADS", 0)()
	if n == 0 {
		return runtime.NumCPU()
	}
	return int(n) //nolint:gosec // thread counts are small
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"KERNELTUNE_DEBUG":         {"KERNELTUNE_DEBUG", LogLevel(), "Show additional debug information (1 = debug, 2 = trace)"},
		"KERNELTUNE_TUNE_ROUNDS":   {"KERNELTUNE_TUNE_ROUNDS", TuneRounds(), "Timed calls per tuning candidate (default 5)"},
		"KERNELTUNE_WARMUP_ROUNDS": {"KERNELTUNE_WARMUP_ROUNDS", WarmupRounds(), "Untimed warm-up calls per tuning candidate (default 1)"},
		"KERNELTUNE_DEVICE_MEMORY": {"KERNELTUNE_DEVICE_MEMORY", DeviceMemory(), "Bytes each emulated device context may allocate (default 1 GiB)"},
		"KERNELTUNE_NUM_THREADS":   {"KERNELTUNE_NUM_THREADS", NumThreads(), "Worker goroutines for parallel host kernels (default NumCPU)"},
		"KERNELTUNE_CACHE":         {"KERNELTUNE_CACHE", Cache(), "SQLite file persisting tuned records (empty disables)"},
		"KERNELTUNE_PROFILING":     {"KERNELTUNE_PROFILING", Profiling(), "Log per-operator times after every run"},
	}
}

// Values returns the current values as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
