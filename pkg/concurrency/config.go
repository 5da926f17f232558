package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ParallelizationMode controls whether nodes may execute data batches in parallel
type ParallelizationMode string

const (
	ParallelizationEnabled  ParallelizationMode = "enabled"
	ParallelizationDisabled ParallelizationMode = "disabled"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// Config holds concurrency configuration parameters
type Config struct {
	// MaxThreads is the number of workers in the shared batch pool
	MaxThreads int
	// MaxConcurrentNodes bounds how many nodes of one graph level run at once
	MaxConcurrentNodes int
	// Parallelization is the run-wide switch for parallel batch execution
	Parallelization ParallelizationMode
	// BatchBuffer is the size of the pool's job queue
	BatchBuffer   int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{}

	// Detect if running in Kubernetes
	config.IsKubernetes = isKubernetes()

	// Get effective CPUs (respects cgroup limits)
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	if threads := getEnvInt("SLOTFLOW_MAX_THREADS", 0); threads > 0 {
		config.MaxThreads = threads
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("SLOTFLOW_THREAD_MULTIPLIER", 0); multiplier > 0 {
		config.MaxThreads = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxThreads = getDefaultMaxThreads(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	// Ensure minimum value
	if config.MaxThreads < 1 {
		config.MaxThreads = 1
	}

	if nodes := getEnvInt("SLOTFLOW_MAX_CONCURRENT_NODES", 0); nodes > 0 {
		config.MaxConcurrentNodes = nodes
	} else {
		config.MaxConcurrentNodes = max(config.EffectiveCPUs, 2)
	}

	if mode := getEnv("SLOTFLOW_PARALLELIZATION", ""); mode != "" {
		config.Parallelization = ParallelizationMode(strings.ToLower(mode))
	} else {
		config.Parallelization = ParallelizationEnabled
	}

	// Validate Parallelization
	if config.Parallelization != ParallelizationEnabled && config.Parallelization != ParallelizationDisabled {
		config.Parallelization = ParallelizationEnabled
	}

	config.BatchBuffer = getEnvInt("SLOTFLOW_BATCH_BUFFER", 0)
	if config.BatchBuffer <= 0 {
		config.BatchBuffer = config.MaxThreads * 4
	}

	return config
}

// DefaultConfig returns a configuration derived from the CPU count only
func DefaultConfig() *Config {
	cpus := runtime.GOMAXPROCS(0)
	return &Config{
		MaxThreads:         max(cpus, 1),
		MaxConcurrentNodes: max(cpus, 2),
		Parallelization:    ParallelizationEnabled,
		BatchBuffer:        max(cpus, 1) * 4,
		Source:             ConfigSourceDefault,
		EffectiveCPUs:      cpus,
	}
}

// ParallelizationAllowed reports whether the run enables parallel batch execution
func (c *Config) ParallelizationAllowed() bool {
	return c.Parallelization == ParallelizationEnabled
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	// Kubernetes sets this environment variable in all containers
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxThreads returns sensible defaults based on environment
func getDefaultMaxThreads(isK8s bool, cpus int) int {
	if isK8s {
		// data batches are CPU bound, stay within the quota
		return cpus
	}
	return cpus * 2
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxThreads: %d, MaxConcurrentNodes: %d, Parallelization: %s, BatchBuffer: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxThreads,
		c.MaxConcurrentNodes,
		c.Parallelization,
		c.BatchBuffer,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
