package config

import (
	"testing"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateKeepsCustomizedValues(t *testing.T) {
	f := newFixture(t)
	oldSpec := NewSpec([]*types.PrototypeConfig{
		{Name: "cfg", Type: types.FieldGroup},
		{Name: "cfg", Subname: "x", Type: types.FieldInteger, Default: int64(10)},
		{Name: "cfg", Subname: "gone", Type: types.FieldString, Default: "g"},
		{Name: "level", Type: types.FieldString, Default: "low"},
		{Name: "extra", Type: types.FieldGroup, Limits: types.Limits{Activatable: true, Active: false}},
		{Name: "extra", Subname: "a", Type: types.FieldString},
	})
	newSpec := NewSpec([]*types.PrototypeConfig{
		{Name: "cfg", Type: types.FieldGroup},
		{Name: "cfg", Subname: "x", Type: types.FieldInteger, Default: int64(50)},
		{Name: "cfg", Subname: "y", Type: types.FieldString, Default: "auto"},
		{Name: "level", Type: types.FieldString, Default: "high"},
		{Name: "extra", Type: types.FieldGroup, Limits: types.Limits{Activatable: true, Active: false}},
		{Name: "extra", Subname: "a", Type: types.FieldString},
		{Name: "fresh", Type: types.FieldGroup, Limits: types.Limits{Activatable: true, Active: true}},
		{Name: "fresh", Subname: "b", Type: types.FieldString},
	})

	oldConfig := map[string]any{
		"cfg":   map[string]any{"x": int64(25), "gone": "g"},
		"level": "low",
		"extra": map[string]any{"a": nil},
	}
	oldAttr := map[string]any{"extra": map[string]any{"active": true}}

	config, attr, err := f.engine.Migrate(SwitchInput{OldSpec: oldSpec, NewSpec: newSpec, NewProto: &types.Prototype{}}, oldConfig, oldAttr)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"x": int64(25), "y": "auto"}, config["cfg"])
	assert.Equal(t, "high", config["level"])
	assert.Equal(t, map[string]any{"active": true}, attr["extra"])
	assert.Equal(t, map[string]any{"active": true}, attr["fresh"])
}

func TestSwitchUntouchedDefaultsEqualNewDefaults(t *testing.T) {
	f := newFixture(t)
	oldSpec := NewSpec([]*types.PrototypeConfig{
		{Name: "a", Type: types.FieldInteger, Default: int64(1)},
		{Name: "b", Type: types.FieldString, Default: "x"},
	})
	newSpec := NewSpec([]*types.PrototypeConfig{
		{Name: "a", Type: types.FieldInteger, Default: int64(2)},
		{Name: "c", Type: types.FieldList, Default: []any{"l"}},
	})
	proto := &types.Prototype{}
	obj := &types.Object{Type: types.ObjectCluster, Name: "c"}

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		require.NoError(t, storage.InsertObject(tx, obj))
		oc, err := f.engine.Init(tx, obj.Ref(), 0, oldSpec, proto, "h")
		require.NoError(t, err)
		obj.ConfigID = oc.ID
		return f.engine.Switch(tx, SwitchInput{Object: obj, OldSpec: oldSpec, NewSpec: newSpec, NewProto: proto})
	}))

	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		_, cl, err := storage.CurrentConfig(tx, obj.ConfigID)
		require.NoError(t, err)
		want, _, err := f.engine.Defaults(newSpec, proto, "h")
		require.NoError(t, err)
		assert.Equal(t, want, cl.Config)
		assert.Equal(t, "upgrade", cl.Description)
		return nil
	}))
}
