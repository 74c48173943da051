package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsStoreUsesCustomRegistry(t *testing.T) {
	a := NewMetricsStore()
	b := NewMetricsStore()

	// Two stores must not collide on registration.
	a.PlannedStepsTotal.WithLabelValues("CreateTable").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PlannedStepsTotal.WithLabelValues("CreateTable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PlannedStepsTotal.WithLabelValues("CreateTable")))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "dbmigrate_planned_steps_total")
	assert.Contains(t, names, "dbmigrate_up")
}

func TestObserveDBStats(t *testing.T) {
	testCases := []struct {
		name  string
		alias string
		open  int
	}{
		{name: "target pool", alias: "target", open: 3},
		{name: "idle pool", alias: "idle", open: 0},
	}

	s := NewMetricsStore()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s.ObserveDBStats(tc.alias, tc.open)
			assert.Equal(t, float64(tc.open), testutil.ToFloat64(s.DBConnections.WithLabelValues(tc.alias)))
		})
	}
}
