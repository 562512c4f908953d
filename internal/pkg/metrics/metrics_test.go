package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGathersAgentMetrics(t *testing.T) {
	CyclesTotal.WithLabelValues("completed").Inc()
	UploadsTotal.WithLabelValues("uploaded").Add(2)

	assert.GreaterOrEqual(t, testutil.ToFloat64(CyclesTotal.WithLabelValues("completed")), 1.0)

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cpeer_video_upload_cycles_total"])
	assert.True(t, names["cpeer_video_upload_files_total"])
	assert.True(t, names["go_goroutines"])
}
