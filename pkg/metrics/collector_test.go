package metrics

import (
	"testing"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		for _, name := range []string{"c1", "c2"} {
			if err := storage.InsertObject(tx, &types.Object{Type: types.ObjectCluster, Name: name}); err != nil {
				return err
			}
		}
		if err := storage.Concerns.Insert(tx, &types.ConcernItem{Type: types.ConcernIssue, Owner: types.Ref(types.ObjectCluster, 1)}); err != nil {
			return err
		}
		tx.Emit(types.NewEvent(types.EventCreate, types.Ref(types.ObjectCluster, 1), types.EventDetails{}))
		return nil
	}))

	c := NewCollector(store, 0)
	c.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(ObjectsTotal.WithLabelValues("cluster")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ObjectsTotal.WithLabelValues("host")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ConcernsTotal.WithLabelValues("issue")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConcernsTotal.WithLabelValues("lock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OutboxPending))
}
