package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/types"
)

// Table is one bucket of JSON records keyed by a big-endian int64 id.
// IDs come from the bucket sequence and are never reused.
type Table[T any] struct {
	bucket   []byte
	label    string
	notFound errcode.Code
	id       func(*T) *int64
}

func newTable[T any](bucket, label string, notFound errcode.Code, id func(*T) *int64) *Table[T] {
	t := &Table[T]{bucket: []byte(bucket), label: label, notFound: notFound, id: id}
	registerBucket(t.bucket)
	return t
}

// Insert assigns the next id to v and stores it
func (t *Table[T]) Insert(tx *Tx, v *T) error {
	b := tx.btx.Bucket(t.bucket)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate %s id: %w", t.label, err)
	}
	*t.id(v) = int64(seq)
	return t.Put(tx, v)
}

// Put stores v under its id (upsert)
func (t *Table[T]) Put(tx *Tx, v *T) error {
	id := *t.id(v)
	if id == 0 {
		return fmt.Errorf("%s without id", t.label)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %d: %w", t.label, id, err)
	}
	return tx.btx.Bucket(t.bucket).Put(itob(id), data)
}

// Get loads a record; a missing id reports the table's not-found code
func (t *Table[T]) Get(tx *Tx, id int64) (*T, error) {
	data := tx.btx.Bucket(t.bucket).Get(itob(id))
	if data == nil {
		return nil, errcode.New(t.notFound, "%s %d does not exist", t.label, id)
	}
	var v T
	if err := types.Decode(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s %d: %w", t.label, id, err)
	}
	return &v, nil
}

// Exists reports whether id is present
func (t *Table[T]) Exists(tx *Tx, id int64) bool {
	return tx.btx.Bucket(t.bucket).Get(itob(id)) != nil
}

// Delete removes a record; deleting a missing id is not an error
func (t *Table[T]) Delete(tx *Tx, id int64) error {
	return tx.btx.Bucket(t.bucket).Delete(itob(id))
}

// List returns records matching filter in id order; a nil filter matches all
func (t *Table[T]) List(tx *Tx, filter func(*T) bool) ([]*T, error) {
	var out []*T
	err := tx.btx.Bucket(t.bucket).ForEach(func(k, data []byte) error {
		var v T
		if err := types.Decode(data, &v); err != nil {
			return fmt.Errorf("failed to decode %s %d: %w", t.label, btoi(k), err)
		}
		if filter == nil || filter(&v) {
			out = append(out, &v)
		}
		return nil
	})
	return out, err
}

// Find returns the first record matching filter, or a not-found error
func (t *Table[T]) Find(tx *Tx, filter func(*T) bool) (*T, error) {
	var found *T
	c := tx.btx.Bucket(t.bucket).Cursor()
	for k, data := c.First(); k != nil; k, data = c.Next() {
		var v T
		if err := types.Decode(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s %d: %w", t.label, btoi(k), err)
		}
		if filter(&v) {
			found = &v
			break
		}
	}
	if found == nil {
		return nil, errcode.New(t.notFound, "%s does not exist", t.label)
	}
	return found, nil
}

// DeleteWhere removes every record matching filter and returns them
func (t *Table[T]) DeleteWhere(tx *Tx, filter func(*T) bool) ([]*T, error) {
	rows, err := t.List(tx, filter)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := t.Delete(tx, *t.id(r)); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Count returns the number of records
func (t *Table[T]) Count(tx *Tx) int {
	return tx.btx.Bucket(t.bucket).Stats().KeyN
}

var buckets [][]byte

func registerBucket(name []byte) {
	buckets = append(buckets, name)
}

func allBuckets() [][]byte {
	return append(append([][]byte{}, buckets...), bucketOutbox)
}

// Prototype records
var (
	Bundles          = newTable("bundles", "bundle", errcode.BundleNotFound, func(v *types.Bundle) *int64 { return &v.ID })
	Prototypes       = newTable("prototypes", "prototype", errcode.PrototypeNotFound, func(v *types.Prototype) *int64 { return &v.ID })
	PrototypeConfigs = newTable("prototype_configs", "prototype config", errcode.ConfigNotFound, func(v *types.PrototypeConfig) *int64 { return &v.ID })
	Actions          = newTable("actions", "action", errcode.ActionNotFound, func(v *types.Action) *int64 { return &v.ID })
	SubActions       = newTable("sub_actions", "sub action", errcode.ActionNotFound, func(v *types.SubAction) *int64 { return &v.ID })
	Upgrades         = newTable("upgrades", "upgrade", errcode.UpgradeNotFound, func(v *types.Upgrade) *int64 { return &v.ID })
	Imports          = newTable("prototype_imports", "import", errcode.BindError, func(v *types.PrototypeImport) *int64 { return &v.ID })
	Exports          = newTable("prototype_exports", "export", errcode.BindError, func(v *types.PrototypeExport) *int64 { return &v.ID })
)

// Configuration and topology
var (
	ObjectConfigs  = newTable("object_configs", "object config", errcode.ConfigNotFound, func(v *types.ObjectConfig) *int64 { return &v.ID })
	ConfigLogs     = newTable("config_logs", "config log", errcode.ConfigNotFound, func(v *types.ConfigLog) *int64 { return &v.ID })
	GroupConfigs   = newTable("group_configs", "group config", errcode.GroupConfigNotFound, func(v *types.GroupConfig) *int64 { return &v.ID })
	HostComponents = newTable("host_components", "host component", errcode.ComponentNotFound, func(v *types.HostComponent) *int64 { return &v.ID })
	Binds          = newTable("cluster_binds", "bind", errcode.BindError, func(v *types.ClusterBind) *int64 { return &v.ID })
	Concerns       = newTable("concerns", "concern", errcode.ObjectNotFound, func(v *types.ConcernItem) *int64 { return &v.ID })
)

// Execution log
var (
	Tasks = newTable("tasks", "task", errcode.TaskNotFound, func(v *types.TaskLog) *int64 { return &v.ID })
	Jobs  = newTable("jobs", "job", errcode.JobNotFound, func(v *types.JobLog) *int64 { return &v.ID })
	Logs  = newTable("log_storage", "log storage", errcode.JobNotFound, func(v *types.LogStorage) *int64 { return &v.ID })
)
