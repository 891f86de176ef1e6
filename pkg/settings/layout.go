package settings

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout derives every path ADCM uses from the base directory
type Layout struct {
	Base string
}

// Data returns <base>/data
func (l Layout) Data() string { return filepath.Join(l.Base, "data") }

// BundleDir holds unpacked bundles, one directory per hash
func (l Layout) BundleDir() string { return filepath.Join(l.Data(), "bundle") }

// FileDir holds materialized file-typed config values
func (l Layout) FileDir() string { return filepath.Join(l.Data(), "file") }

// RunDir holds per-job config.json and inventory.json
func (l Layout) RunDir() string { return filepath.Join(l.Data(), "run") }

// LogDir holds job output files
func (l Layout) LogDir() string { return filepath.Join(l.Data(), "log") }

// VarDir holds the database and secrets
func (l Layout) VarDir() string { return filepath.Join(l.Data(), "var") }

// SecretsFile is data/var/secrets.json
func (l Layout) SecretsFile() string { return filepath.Join(l.VarDir(), "secrets.json") }

// VaultPasswordFile is the password file handed to ansible-playbook
func (l Layout) VaultPasswordFile() string { return filepath.Join(l.VarDir(), "vault.secret") }

// ConfDir holds the playbooks of the built-in adcm prototype
func (l Layout) ConfDir() string { return filepath.Join(l.Base, "conf") }

// StackDir returns the directory of an unpacked bundle
func (l Layout) StackDir(hash string) string { return filepath.Join(l.BundleDir(), hash) }

// JobDir returns data/run/<job-id>
func (l Layout) JobDir(jobID int64) string {
	return filepath.Join(l.RunDir(), fmt.Sprint(jobID))
}

// JobLogFile returns data/log/<job-id>-<name>-<kind>.txt
func (l Layout) JobLogFile(jobID int64, name, kind string) string {
	return filepath.Join(l.LogDir(), fmt.Sprintf("%d-%s-%s.txt", jobID, name, kind))
}

// Ensure creates every directory of the layout
func (l Layout) Ensure() error {
	for _, dir := range []string{l.BundleDir(), l.FileDir(), l.RunDir(), l.LogDir(), l.VarDir()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
