package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobalState() {
	initMu.Lock()
	defer initMu.Unlock()
	instance = nil
}

func TestDisabledConfigYieldsNilCreator(t *testing.T) {
	resetGlobalState()

	err := InitMetricCreator(MetricsConfig{ServiceName: "test", Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, GetMetricCreator())
}

func TestEnabledConfigYieldsCreator(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	err := InitMetricCreator(MetricsConfig{
		ServiceName:    "starter",
		ServiceVersion: "1.0.0",
		GlobalTags:     map[string]string{"env": "test"},
		Enabled:        true,
	})
	require.NoError(t, err)

	mc := GetMetricCreator()
	require.NotNil(t, mc)
	assert.Equal(t, "test", mc.globalTags["env"])
}

func TestRecordCounterOnNilReceiverIsSafe(t *testing.T) {
	var mc *MetricCreator
	err := mc.RecordCounter(context.Background(), "pods_allocated_total", 1, "1", "pods allocated", nil)
	assert.NoError(t, err)
}

func TestRecordCounterReusesCachedInstrument(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	require.NoError(t, InitMetricCreator(MetricsConfig{ServiceName: "starter", Enabled: true}))
	mc := GetMetricCreator()

	ctx := context.Background()
	require.NoError(t, mc.RecordCounter(ctx, "pods_displaced_total", 1, "1", "pods displaced", nil))
	require.NoError(t, mc.RecordCounter(ctx, "pods_displaced_total", 1, "1", "pods displaced", map[string]string{"pool": "default"}))

	_, ok := mc.counterCache.Load("pods_displaced_total")
	assert.True(t, ok)
}

func TestFlagConversion(t *testing.T) {
	enable := true
	component := "starter"
	version := "2.0.0"

	flagPtrs := &MetricsFlagPointers{
		enable:    &enable,
		component: &component,
		version:   &version,
	}

	config := flagPtrs.ToMetricsConfig()
	assert.True(t, config.Enabled)
	assert.Equal(t, component, config.ServiceName)
	assert.Equal(t, version, config.ServiceVersion)
	assert.NotNil(t, config.GlobalTags)
}
