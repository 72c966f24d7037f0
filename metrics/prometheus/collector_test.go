package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered sums every sample of the named family whose labels include want.
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordDocument("create", time.Millisecond, nil)
	c.RecordDocument("delete", time.Millisecond, errors.New("boom"))
	c.RecordCommit(7, time.Millisecond, nil)
	c.RecordCommit(3, time.Millisecond, errors.New("boom"))
	c.RecordSnapshot(1024, time.Second, nil)
	c.RecordRestore(false, time.Second)
	c.RecordLeaseRecall(2)
	c.RecordSearch(5, time.Millisecond, nil)

	assert.Equal(t, 1.0, gathered(t, reg, "jsonindex_documents_total", map[string]string{"op": "create", "status": "success"}))
	assert.Equal(t, 1.0, gathered(t, reg, "jsonindex_documents_total", map[string]string{"op": "delete", "status": "error"}))
	assert.Equal(t, 7.0, gathered(t, reg, "jsonindex_committed_writes_total", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "jsonindex_commits_total", map[string]string{"status": "error"}))
	assert.Equal(t, 1024.0, gathered(t, reg, "jsonindex_snapshot_bytes_total", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "jsonindex_restores_total", map[string]string{"outcome": "none"}))
	assert.Equal(t, 2.0, gathered(t, reg, "jsonindex_leases_recalled_total", nil))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
