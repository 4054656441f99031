package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings read from the environment. Command-line flags take
// precedence over every field.
type Config struct {
	// MesaDir is the MESA installation. Empty means <workdir>/mesa-24.08.1.
	MesaDir string
	// SDKRoot is the MESA SDK installation.
	SDKRoot string
	// Threads is the OpenMP thread count for the MESA stages.
	Threads int
	// Workers bounds concurrent Stella runs. Defaults to Threads.
	Workers int
	// Timeout applies to the sequential stages of each job. Zero disables it.
	Timeout time.Duration
	// SweepFile is the sweep table, relative to the input directory unless
	// absolute.
	SweepFile string
}

// Error reports an environment variable that could not be parsed.
type Error struct {
	Key   string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads envFilePath into the process environment, if it exists, and
// then builds a Config from STELLARSWEEP_* variables.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// A missing file is fine; the environment alone is enough.
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	var errs []error
	threads, err := getEnvAsInt("STELLARSWEEP_THREADS", runtime.NumCPU())
	errs = append(errs, err)
	workers, err := getEnvAsInt("STELLARSWEEP_WORKERS", threads)
	errs = append(errs, err)
	timeout, err := getEnvAsDuration("STELLARSWEEP_TIMEOUT", 0)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg := &Config{
		MesaDir:   getEnv("STELLARSWEEP_MESA_DIR", ""),
		SDKRoot:   getEnv("STELLARSWEEP_MESASDK_ROOT", getEnv("MESASDK_ROOT", "")),
		Threads:   threads,
		Workers:   workers,
		Timeout:   timeout,
		SweepFile: getEnv("STELLARSWEEP_SWEEP", "Simlist.csv"),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, &Error{Key: key, Value: valueStr, Err: err}
	}
	if value < 1 {
		return 0, &Error{Key: key, Value: valueStr, Err: errors.New("must be at least 1")}
	}
	return value, nil
}

// getEnvAsDuration accepts a Go duration ("90m") or a bare number of
// seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := ParseDuration(valueStr)
	if err != nil {
		return 0, &Error{Key: key, Value: valueStr, Err: err}
	}
	return d, nil
}

// ParseDuration parses a Go duration or a bare number of seconds. Negative
// values are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}
