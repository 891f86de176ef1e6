package storage

import (
	"errors"
	"testing"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTableCRUD(t *testing.T) {
	s := newTestStore(t)

	var id int64
	err := s.Update(func(tx *Tx) error {
		c := &types.Object{Type: types.ObjectCluster, Name: "c1", State: types.StateCreated}
		if err := InsertObject(tx, c); err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	err = s.View(func(tx *Tx) error {
		c, err := GetTyped(tx, types.ObjectCluster, id)
		require.NoError(t, err)
		assert.Equal(t, "c1", c.Name)
		assert.False(t, c.CreatedAt.IsZero())

		_, err = GetTyped(tx, types.ObjectCluster, 42)
		assert.True(t, errcode.Is(err, errcode.ClusterNotFound))
		_, err = GetTyped(tx, types.ObjectHost, id)
		assert.True(t, errcode.Is(err, errcode.HostNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestIDsAreNotReused(t *testing.T) {
	s := newTestStore(t)

	var first, second int64
	require.NoError(t, s.Update(func(tx *Tx) error {
		a := &types.TaskLog{Status: types.StatusCreated}
		require.NoError(t, Tasks.Insert(tx, a))
		first = a.ID
		return Tasks.Delete(tx, a.ID)
	}))
	require.NoError(t, s.Update(func(tx *Tx) error {
		b := &types.TaskLog{Status: types.StatusCreated}
		require.NoError(t, Tasks.Insert(tx, b))
		second = b.ID
		return nil
	}))
	assert.Greater(t, second, first)
}

func TestRollbackDiscardsRecordsAndEvents(t *testing.T) {
	s := newTestStore(t)

	var hooked int
	s.OnCommit(func(events []*types.Event) { hooked += len(events) })

	boom := errors.New("boom")
	err := s.Update(func(tx *Tx) error {
		c := &types.Object{Type: types.ObjectCluster, Name: "c1"}
		require.NoError(t, InsertObject(tx, c))
		tx.Emit(types.NewEvent(types.EventCreate, c.Ref(), types.EventDetails{}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, hooked)
	assert.Equal(t, 0, s.OutboxLen())
	require.NoError(t, s.View(func(tx *Tx) error {
		list, err := ListObjects(tx, types.ObjectCluster, nil)
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	}))
}

func TestOutboxOrderAndAck(t *testing.T) {
	s := newTestStore(t)

	var hooked []*types.Event
	s.OnCommit(func(events []*types.Event) { hooked = append(hooked, events...) })

	require.NoError(t, s.Update(func(tx *Tx) error {
		ref := types.Ref(types.ObjectCluster, 1)
		tx.Emit(types.NewEvent(types.EventChangeState, ref, types.EventDetails{Type: "status", Value: "installed"}))
		tx.Emit(types.NewEvent(types.EventChangeConfig, ref, types.EventDetails{Type: "version", Value: "2"}))
		return nil
	}))

	select {
	case <-s.Notify():
	default:
		t.Fatal("expected outbox notification")
	}
	require.Len(t, hooked, 2)

	pending, err := s.PendingEvents(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, types.EventChangeState, pending[0].Event.Event)
	assert.Equal(t, types.EventChangeConfig, pending[1].Event.Event)
	assert.NotEmpty(t, pending[0].ID)

	require.NoError(t, s.AckEvents(pending[0]))
	assert.Equal(t, 1, s.OutboxLen())
}

func TestConfigValuesKeepIntegers(t *testing.T) {
	s := newTestStore(t)

	var id int64
	require.NoError(t, s.Update(func(tx *Tx) error {
		cl := &types.ConfigLog{Config: map[string]any{
			"port":  8080,
			"ratio": 0.5,
			"cfg":   map[string]any{"x": 25, "list": []any{1, "a"}},
		}}
		require.NoError(t, ConfigLogs.Insert(tx, cl))
		id = cl.ID
		return nil
	}))

	require.NoError(t, s.View(func(tx *Tx) error {
		cl, err := ConfigLogs.Get(tx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(8080), cl.Config["port"])
		assert.Equal(t, 0.5, cl.Config["ratio"])
		assert.Equal(t, map[string]any{"x": int64(25), "list": []any{int64(1), "a"}}, cl.Config["cfg"])
		return nil
	}))
}
