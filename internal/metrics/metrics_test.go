package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MutationsTotal.WithLabelValues("insert", "post").Inc()
	m.RowsSynced.Add(3)
	m.OplogBacklog.Set(7)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vdoc_mutations_total"])
	assert.True(t, names["vdoc_sync_rows_written_total"])
	assert.True(t, names["vdoc_oplog_backlog"])

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsSynced))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OplogBacklog))
}

func TestNew_NilRegistererDoesNotPanic(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.WriteAttempts.Inc()
	b.WriteAttempts.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.WriteAttempts))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestDrainDuration_RecordsObservations(t *testing.T) {
	m := New(nil)
	m.DrainDuration.Observe(0.002)
	m.DrainDuration.Observe(0.3)

	var out dto.Metric
	require.NoError(t, m.DrainDuration.(prometheus.Metric).Write(&out))
	require.NotNil(t, out.GetHistogram())
	assert.Equal(t, uint64(2), out.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.302, out.GetHistogram().GetSampleSum(), 1e-9)
}
