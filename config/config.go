// Package config aggregates the starter's POD_*/CONTAINER_REGISTRY_*/
// API_URL_*/environment settings, following the flag+environment-variable
// idiom used throughout utils/. Database and Redis settings are registered
// separately by utils/postgres and utils/redis.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/fuzzcorp/starter/podevents"
	"github.com/fuzzcorp/starter/resources"
	"github.com/fuzzcorp/starter/utils"
)

// FuzzerPodConfig mirrors settings.py's FuzzerPodSettings (env prefix POD_).
type FuzzerPodConfig struct {
	Namespace                string
	TestRunImage             string
	AgentCPU                 int64 // millicpu
	AgentRAM                 int64 // MiB
	MinWorkTime              time.Duration
	OutputSaveMode           podevents.SaveMode
	LaunchInfoRetentionPeriod time.Duration
	LaunchInfoCleanupInterval time.Duration
}

// ContainerRegistryConfig mirrors ContainerRegistrySettings (env prefix
// CONTAINER_REGISTRY_).
type ContainerRegistryConfig struct {
	URL string
}

// APIEndpointsConfig mirrors APIEndpoints (env prefix API_URL_).
type APIEndpointsConfig struct {
	PoolManager string
}

// EnvironmentConfig mirrors EnvironmentSettings.
type EnvironmentConfig struct {
	Name            string // dev, prod, test
	ShutdownTimeout time.Duration
	ServiceName     string
	ServiceVersion  string
}

// Config is the full settings surface, analogous to settings.py's
// AppSettings aggregate.
type Config struct {
	FuzzerPod FuzzerPodConfig
	Registry  ContainerRegistryConfig
	API       APIEndpointsConfig
	Env       EnvironmentConfig
}

// FlagPointers holds the flag.* return values until flag.Parse() runs.
type FlagPointers struct {
	namespace      *string
	testRunImage   *string
	agentCPU       *string
	agentRAM       *string
	minWorkTime    *string
	outputSaveMode *string
	retention      *string
	cleanupInterval *string

	registryURL *string
	poolMgrURL  *string

	envName         *string
	shutdownTimeout *string
	serviceName     *string
	serviceVersion  *string
}

// RegisterFlags registers every fuzzer-pod starter flag with defaults
// sourced from POD_*/CONTAINER_REGISTRY_*/API_URL_*/ENVIRONMENT env vars.
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		namespace:    flag.String("pod-namespace", utils.GetEnv("POD_NAMESPACE", "fuzzing"), "Kubernetes namespace for fuzzer pods"),
		testRunImage: flag.String("pod-test-run-image", utils.GetEnv("POD_TEST_RUN_IMAGE", ""), "Default test-run container image"),
		agentCPU:     flag.String("pod-agent-cpu", utils.GetEnv("POD_AGENT_CPU", "500m"), "Agent container CPU request"),
		agentRAM:     flag.String("pod-agent-ram", utils.GetEnv("POD_AGENT_RAM", "512Mi"), "Agent container RAM request"),
		minWorkTime:  flag.String("pod-min-work-time", utils.GetEnv("POD_MIN_WORK_TIME", "60s"), "Minimum pod work time before displacement eviction"),
		outputSaveMode: flag.String("pod-output-save-mode", utils.GetEnv("POD_OUTPUT_SAVE_MODE", "Error"), "What pod output to persist: None, Error, All"),
		retention:       flag.String("pod-launch-info-retention-period", utils.GetEnv("POD_LAUNCH_INFO_RETENTION_PERIOD", "720h"), "How long launch records are retained"),
		cleanupInterval: flag.String("pod-launch-info-cleanup-interval", utils.GetEnv("POD_LAUNCH_INFO_CLEANUP_INTERVAL", "1h"), "How often expired launch records are swept"),

		registryURL: flag.String("container-registry-url", utils.GetEnv("CONTAINER_REGISTRY_URL", ""), "Container registry endpoint, without scheme"),
		poolMgrURL:  flag.String("api-url-pool-manager", utils.GetEnv("API_URL_POOL_MANAGER", ""), "Pool manager base URL"),

		envName:         flag.String("environment", utils.GetEnv("ENVIRONMENT", "dev"), "Deployment environment: dev, prod, test"),
		shutdownTimeout: flag.String("shutdown-timeout", utils.GetEnv("SHUTDOWN_TIMEOUT", "30s"), "Graceful shutdown timeout"),
		serviceName:     flag.String("service-name", utils.GetEnv("SERVICE_NAME", "starter"), "Service name reported in logs/metrics"),
		serviceVersion:  flag.String("service-version", utils.GetEnv("SERVICE_VERSION", ""), "Service version reported in logs/metrics"),
	}
}

// ToConfig converts flag pointers to a Config. Call after flag.Parse().
func (f *FlagPointers) ToConfig() (Config, error) {
	agentCPU, err := resources.ParseCPU(*f.agentCPU, resources.CPUUnitMilli)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POD_AGENT_CPU: %w", err)
	}
	agentRAM, err := resources.ParseRAM(*f.agentRAM, resources.RAMUnitMi)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POD_AGENT_RAM: %w", err)
	}
	minWorkTime, err := time.ParseDuration(*f.minWorkTime)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POD_MIN_WORK_TIME: %w", err)
	}
	retention, err := time.ParseDuration(*f.retention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POD_LAUNCH_INFO_RETENTION_PERIOD: %w", err)
	}
	cleanupInterval, err := time.ParseDuration(*f.cleanupInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POD_LAUNCH_INFO_CLEANUP_INTERVAL: %w", err)
	}
	shutdownTimeout, err := time.ParseDuration(*f.shutdownTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	saveMode := podevents.SaveMode(*f.outputSaveMode)
	switch saveMode {
	case podevents.SaveModeNone, podevents.SaveModeError, podevents.SaveModeAll:
	default:
		return Config{}, fmt.Errorf("invalid POD_OUTPUT_SAVE_MODE: %q", *f.outputSaveMode)
	}

	cfg := Config{
		FuzzerPod: FuzzerPodConfig{
			Namespace:                 *f.namespace,
			TestRunImage:              *f.testRunImage,
			AgentCPU:                  agentCPU,
			AgentRAM:                  agentRAM,
			MinWorkTime:               minWorkTime,
			OutputSaveMode:            saveMode,
			LaunchInfoRetentionPeriod: retention,
			LaunchInfoCleanupInterval: cleanupInterval,
		},
		Registry: ContainerRegistryConfig{URL: *f.registryURL},
		API:      APIEndpointsConfig{PoolManager: *f.poolMgrURL},
		Env: EnvironmentConfig{
			Name:            *f.envName,
			ShutdownTimeout: shutdownTimeout,
			ServiceName:     *f.serviceName,
			ServiceVersion:  *f.serviceVersion,
		},
	}

	if err := cfg.validateForEnvironment(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateForEnvironment rejects empty required fields when running in
// production, mirroring settings.py's check_values_for_production.
func (c Config) validateForEnvironment() error {
	if c.Env.Name != "prod" {
		return nil
	}

	var missing []string
	if c.FuzzerPod.Namespace == "" {
		missing = append(missing, "POD_NAMESPACE")
	}
	if c.FuzzerPod.TestRunImage == "" {
		missing = append(missing, "POD_TEST_RUN_IMAGE")
	}
	if c.Registry.URL == "" {
		missing = append(missing, "CONTAINER_REGISTRY_URL")
	}
	if c.API.PoolManager == "" {
		missing = append(missing, "API_URL_POOL_MANAGER")
	}
	if c.Env.ServiceName == "" {
		missing = append(missing, "SERVICE_NAME")
	}
	if c.Env.ServiceVersion == "" {
		missing = append(missing, "SERVICE_VERSION")
	}

	if len(missing) > 0 {
		return fmt.Errorf("variables must be set in production mode: %v", missing)
	}
	return nil
}
