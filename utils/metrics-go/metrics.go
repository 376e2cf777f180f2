/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes counter-only OpenTelemetry instrumentation for the
// starter's services. No exporter is wired: the global MeterProvider is
// whatever the process registered (noop by default), so recording a metric
// before an exporter is attached is always safe and simply uncounted.
package metrics

import (
	"context"
	"flag"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fuzzcorp/starter/utils"
)

// MetricsConfig holds configuration for the metrics system.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	GlobalTags     map[string]string
	Enabled        bool
}

// MetricCreator provides thread-safe counter recording on top of the
// process-wide otel meter. It never dials out: wiring a real exporter is the
// caller's responsibility (e.g. via otel.SetMeterProvider at process start).
type MetricCreator struct {
	meter        metric.Meter
	counterCache sync.Map // map[string]metric.Int64Counter
	globalTags   map[string]string
}

var (
	instance *MetricCreator
	initMu   sync.Mutex
)

// InitMetricCreator initializes the global MetricCreator singleton. Safe to
// call multiple times; later calls with Enabled=false tear the singleton
// back down so tests can toggle state between runs.
func InitMetricCreator(config MetricsConfig) error {
	initMu.Lock()
	defer initMu.Unlock()

	if !config.Enabled {
		instance = nil
		return nil
	}

	meterName := config.ServiceName
	if config.ServiceVersion != "" {
		meterName = config.ServiceName + "@" + config.ServiceVersion
	}

	globalTags := make(map[string]string, len(config.GlobalTags))
	for k, v := range config.GlobalTags {
		globalTags[k] = v
	}

	instance = &MetricCreator{
		meter:      otel.Meter(meterName),
		globalTags: globalTags,
	}
	return nil
}

// GetMetricCreator returns the global MetricCreator singleton, or nil if
// InitMetricCreator has not been called or metrics are disabled.
func GetMetricCreator() *MetricCreator {
	initMu.Lock()
	defer initMu.Unlock()
	return instance
}

// RecordCounter increments a named counter. Safe to call on a nil receiver.
func (mc *MetricCreator) RecordCounter(ctx context.Context, name string, value int64, unit, description string, tags map[string]string) error {
	if mc == nil {
		return nil
	}

	counter, err := mc.getOrCreateCounter(name, unit, description)
	if err != nil {
		return err
	}

	counter.Add(ctx, value, metric.WithAttributes(mc.buildAttributes(tags)...))
	return nil
}

func (mc *MetricCreator) getOrCreateCounter(name, unit, description string) (metric.Int64Counter, error) {
	if cached, ok := mc.counterCache.Load(name); ok {
		return cached.(metric.Int64Counter), nil
	}

	counter, err := mc.meter.Int64Counter(
		name,
		metric.WithUnit(unit),
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}

	actual, _ := mc.counterCache.LoadOrStore(name, counter)
	return actual.(metric.Int64Counter), nil
}

func (mc *MetricCreator) buildAttributes(callTags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(mc.globalTags)+len(callTags))
	for k, v := range mc.globalTags {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range callTags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// MetricsFlagPointers holds pointers to flag values for metrics configuration.
type MetricsFlagPointers struct {
	enable    *bool
	component *string
	version   *string
}

// RegisterMetricsFlags registers metrics-related command-line flags.
func RegisterMetricsFlags(defaultComponent string) *MetricsFlagPointers {
	return &MetricsFlagPointers{
		enable: flag.Bool("metrics-enable",
			utils.GetEnvBool("STARTER_METRICS_ENABLE", true),
			"Enable OpenTelemetry metric counters"),
		component: flag.String("metrics-component",
			utils.GetEnv("STARTER_METRICS_COMPONENT", defaultComponent),
			"Service name for metrics"),
		version: flag.String("service-version",
			utils.GetEnv("STARTER_SERVICE_VERSION", "unknown"),
			"Service version for metrics"),
	}
}

// ToMetricsConfig converts flag pointers to MetricsConfig.
func (m *MetricsFlagPointers) ToMetricsConfig() MetricsConfig {
	return MetricsConfig{
		ServiceName:    *m.component,
		ServiceVersion: *m.version,
		GlobalTags:     make(map[string]string),
		Enabled:        *m.enable,
	}
}
