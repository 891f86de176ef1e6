package catalog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterBundle = `
- type: cluster
  name: hadoop
  version: "3.1"
  description: test cluster
  license: license.txt
  adcm_min_version: "2023.01"
  config:
    - name: port
      type: integer
      default: 8080
      min: 1
      max: 65535
      required: true
    - name: tls
      type: group
      activatable: true
      subs:
        - name: cert
          type: file
          read_only: any
  actions:
    install:
      type: task
      masking:
        state:
          available: [created]
        multi_state:
          unavailable: [broken]
      on_success:
        state: installed
        multi_state:
          set: [ok]
      on_fail:
        state: failed
      hc_acl:
        - service: hdfs
          component: datanode
          action: add
      allow_to_terminate: true
      config:
        - name: verbose
          type: boolean
          default: false
      scripts:
        - name: prepare
          script: prepare.yaml
        - name: finish
          script: finish.py
          script_type: python
          on_fail:
            state: half
    check:
      script: check.yaml
      states:
        available: any
        on_success: checked
  upgrade:
    - name: to 3.1
      versions:
        min: "2.0"
        max_strict: "3.1"
      states:
        available: [installed]
        on_success: upgraded
  import:
    zookeeper:
      versions:
        min: "3.4"
      required: true
      default: [tls]

- type: service
  name: hdfs
  version: "3.1.1"
  required: true
  export: [nodes]
  config:
    - name: nodes
      type: group
      subs:
        - name: count
          type: integer
          default: 3
  components:
    namenode:
      constraint: [1]
    datanode:
      constraint: [1, +]
      bound_to:
        service: hdfs
        component: namenode
`

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func load(t *testing.T, store *storage.Store, def string) (*types.Bundle, error) {
	t.Helper()
	b, err := Decode([]byte(def))
	require.NoError(t, err)
	var bundle *types.Bundle
	err = store.Update(func(tx *storage.Tx) error {
		var err error
		bundle, err = Load(tx, b, "2024.05")
		return err
	})
	return bundle, err
}

func TestDecodeHash(t *testing.T) {
	a, err := Decode([]byte(clusterBundle))
	require.NoError(t, err)
	b, err := Decode([]byte(clusterBundle))
	require.NoError(t, err)

	assert.Len(t, a.Hash, 64)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Len(t, a.Prototypes, 2)

	_, err = Decode([]byte("type: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	store := openStore(t)
	bundle, err := load(t, store, clusterBundle)
	require.NoError(t, err)

	assert.Equal(t, "hadoop", bundle.Name)
	assert.Equal(t, "3.1", bundle.Version)
	assert.Equal(t, DefaultEdition, bundle.Edition)
	assert.Equal(t, types.LicenseUnaccepted, bundle.License)

	require.NoError(t, store.View(func(tx *storage.Tx) error {
		protos, err := storage.Prototypes.List(tx, nil)
		require.NoError(t, err)
		require.Len(t, protos, 4)
		byName := make(map[string]*types.Prototype)
		for _, p := range protos {
			byName[p.Name] = p
		}

		cluster := byName["hadoop"]
		assert.Equal(t, types.ObjectCluster, cluster.Type)
		assert.Equal(t, types.LicenseUnaccepted, cluster.License)
		assert.Equal(t, "active", cluster.Monitoring)

		hdfs := byName["hdfs"]
		assert.True(t, hdfs.Required)
		assert.Equal(t, types.LicenseAbsent, hdfs.License)

		datanode := byName["datanode"]
		assert.Equal(t, types.ObjectComponent, datanode.Type)
		assert.Equal(t, hdfs.ID, datanode.ParentID)
		assert.Equal(t, "3.1.1", datanode.Version)
		assert.Equal(t, []string{"1", "+"}, datanode.Constraint)
		require.NotNil(t, datanode.BoundTo)
		assert.Equal(t, "namenode", datanode.BoundTo.Component)

		rows, err := storage.ConfigSpec(tx, cluster.ID)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		for _, r := range rows {
			switch r.Subname {
			case "":
				if r.Name == "port" {
					assert.Equal(t, int64(8080), r.Default)
					assert.True(t, r.Required)
					require.NotNil(t, r.Limits.Max)
					assert.Equal(t, 65535.0, *r.Limits.Max)
				} else {
					assert.Equal(t, types.FieldGroup, r.Type)
					assert.True(t, r.Limits.Activatable)
				}
			case "cert":
				assert.True(t, r.Limits.ReadOnlyAny)
			}
		}

		install, err := storage.ActionByName(tx, cluster.ID, "install")
		require.NoError(t, err)
		assert.Equal(t, types.ActionTask, install.Type)
		assert.Equal(t, []string{"created"}, install.StateAvailable)
		assert.False(t, install.StateAvailableAny)
		assert.True(t, install.MultiStateAvailableAny)
		assert.Equal(t, []string{"broken"}, install.MultiStateUnavailable)
		assert.Equal(t, "installed", install.StateOnSuccess)
		assert.Equal(t, []string{"ok"}, install.MultiStateOnSuccessSet)
		assert.Equal(t, "failed", install.StateOnFail)
		assert.True(t, install.AllowToTerminate)
		require.Len(t, install.HostComponentMap, 1)
		assert.Equal(t, types.HCAdd, install.HostComponentMap[0].Action)

		steps, err := storage.ActionSteps(tx, install.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "prepare", steps[0].Name)
		assert.Equal(t, types.ScriptAnsible, steps[0].ScriptType)
		assert.Equal(t, types.ScriptPython, steps[1].ScriptType)
		assert.Equal(t, "half", steps[1].StateOnFail)

		actionRows, err := storage.ActionConfigSpec(tx, install.ID)
		require.NoError(t, err)
		require.Len(t, actionRows, 1)
		assert.Equal(t, "verbose", actionRows[0].Name)

		check, err := storage.ActionByName(tx, cluster.ID, "check")
		require.NoError(t, err)
		assert.Equal(t, types.ActionJob, check.Type)
		assert.True(t, check.StateAvailableAny)
		assert.Equal(t, "checked", check.StateOnSuccess)

		ups, err := storage.Upgrades.List(tx, nil)
		require.NoError(t, err)
		require.Len(t, ups, 1)
		assert.Equal(t, types.VersionRange{Min: "2.0", Max: "3.1", MaxStrict: true}, ups[0].Versions)
		assert.Equal(t, []string{DefaultEdition}, ups[0].FromEdition)
		assert.Equal(t, []string{"installed"}, ups[0].StateAvailable)

		imports, err := storage.Imports.List(tx, nil)
		require.NoError(t, err)
		require.Len(t, imports, 1)
		assert.Equal(t, "zookeeper", imports[0].Name)
		assert.True(t, imports[0].Required)
		assert.Equal(t, []string{"tls"}, imports[0].DefaultGroups)

		exports, err := storage.Exports.List(tx, nil)
		require.NoError(t, err)
		require.Len(t, exports, 1)
		assert.Equal(t, hdfs.ID, exports[0].PrototypeID)
		return nil
	}))
}

func TestLoadLogs(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { log.Init(log.Config{Output: io.Discard}) })

	_, err := load(t, openStore(t), clusterBundle)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"message":"bundle loaded"`)
	assert.Contains(t, buf.String(), `"bundle":"hadoop"`)
	assert.Contains(t, buf.String(), `"component":"catalog"`)
}

func TestLoadConflicts(t *testing.T) {
	store := openStore(t)
	_, err := load(t, store, clusterBundle)
	require.NoError(t, err)

	_, err = load(t, store, clusterBundle)
	assert.True(t, errcode.Is(err, errcode.BundleConflict), err)

	// same name, version and edition under a different hash
	_, err = load(t, store, clusterBundle+"\n# another build\n")
	assert.True(t, errcode.Is(err, errcode.BundleConflict), err)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]struct {
		def  string
		code errcode.Code
	}{
		"newer adcm": {
			def:  "- {type: cluster, name: c, version: '1', adcm_min_version: '2099.01'}",
			code: errcode.BundleVersionError,
		},
		"no main prototype": {
			def:  "- {type: service, name: s, version: '1'}",
			code: errcode.InvalidInput,
		},
		"two main prototypes": {
			def:  "- {type: cluster, name: c, version: '1'}\n- {type: provider, name: p, version: '1'}",
			code: errcode.InvalidInput,
		},
		"read only and writable": {
			def: `
- type: cluster
  name: c
  version: "1"
  config:
    - {name: a, type: string, read_only: any, writable: [created]}`,
			code: errcode.InvalidConfigDefinition,
		},
		"option without options": {
			def: `
- type: cluster
  name: c
  version: "1"
  config:
    - {name: a, type: option}`,
			code: errcode.InvalidConfigDefinition,
		},
		"states with masking": {
			def: `
- type: cluster
  name: c
  version: "1"
  actions:
    a:
      script: a.yaml
      states: {available: any}
      masking: {state: {available: any}}`,
			code: errcode.InvalidInput,
		},
		"task without scripts": {
			def: `
- type: cluster
  name: c
  version: "1"
  actions:
    a: {type: task}`,
			code: errcode.InvalidInput,
		},
		"locked outcome": {
			def: `
- type: cluster
  name: c
  version: "1"
  actions:
    a: {script: a.yaml, on_success: {state: locked}}`,
			code: errcode.InvalidInput,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := openStore(t)
			_, err := load(t, store, tc.def)
			require.Error(t, err)
			assert.Equal(t, tc.code, errcode.CodeOf(err), err)

			require.NoError(t, store.View(func(tx *storage.Tx) error {
				assert.Zero(t, storage.Bundles.Count(tx))
				return nil
			}))
		})
	}
}

func TestAcceptLicense(t *testing.T) {
	store := openStore(t)
	bundle, err := load(t, store, clusterBundle)
	require.NoError(t, err)

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		return AcceptLicense(tx, bundle.ID)
	}))
	require.NoError(t, store.View(func(tx *storage.Tx) error {
		b, err := storage.Bundles.Get(tx, bundle.ID)
		require.NoError(t, err)
		assert.Equal(t, types.LicenseAccepted, b.License)
		unaccepted, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool { return p.License == types.LicenseUnaccepted })
		require.NoError(t, err)
		assert.Empty(t, unaccepted)
		return nil
	}))

	free, err := load(t, store, "- {type: provider, name: p, version: '1'}")
	require.NoError(t, err)
	err = store.Update(func(tx *storage.Tx) error { return AcceptLicense(tx, free.ID) })
	assert.True(t, errcode.Is(err, errcode.LicenseError), err)
}

func TestDelete(t *testing.T) {
	store := openStore(t)
	bundle, err := load(t, store, clusterBundle)
	require.NoError(t, err)

	var protoID int64
	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		p, err := storage.Prototypes.Find(tx, func(p *types.Prototype) bool { return p.Name == "hadoop" })
		require.NoError(t, err)
		protoID = p.ID
		return storage.InsertObject(tx, &types.Object{Type: types.ObjectCluster, PrototypeID: p.ID, Name: "c1"})
	}))

	err = store.Update(func(tx *storage.Tx) error { return Delete(tx, bundle.ID) })
	assert.True(t, errcode.Is(err, errcode.BundleConflict), err)

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		clusters, err := storage.ListObjects(tx, types.ObjectCluster, nil)
		require.NoError(t, err)
		for _, c := range clusters {
			require.NoError(t, storage.DeleteObject(tx, c.Ref()))
		}
		return Delete(tx, bundle.ID)
	}))
	require.NoError(t, store.View(func(tx *storage.Tx) error {
		assert.False(t, storage.Prototypes.Exists(tx, protoID))
		assert.Zero(t, storage.Bundles.Count(tx))
		assert.Zero(t, storage.Actions.Count(tx))
		assert.Zero(t, storage.SubActions.Count(tx))
		assert.Zero(t, storage.PrototypeConfigs.Count(tx))
		assert.Zero(t, storage.Upgrades.Count(tx))
		return nil
	}))
}

func TestUnpack(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "playbooks"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(src, DefinitionFile), []byte(clusterBundle), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "playbooks", "install.yaml"), []byte("- hosts: all\n"), 0600))

	b, err := ReadDir(src)
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "bundle", b.Hash)
	require.NoError(t, Unpack(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "playbooks", "install.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "- hosts"))

	// a second unpack of the same hash is a no-op
	require.NoError(t, Unpack(src, dst))
}
