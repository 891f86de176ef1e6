package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// FilePrefix returns the file name prefix of a config chain:
// "<type>.<id>" for entities and "group.<id>" for group configs
func FilePrefix(oc *types.ObjectConfig) string {
	if oc.GroupID != 0 {
		return fmt.Sprintf("group.%d", oc.GroupID)
	}
	return fmt.Sprintf("%s.%d", oc.Owner.Type, oc.Owner.ID)
}

// FilePath returns where a file-typed value of a config chain is written
func (e *Engine) FilePath(oc *types.ObjectConfig, name, subname string) string {
	return filepath.Join(e.layout.FileDir(), strings.Join([]string{FilePrefix(oc), name, subname}, "."))
}

func isPrivateKey(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "-----BEGIN") && strings.Contains(s, "PRIVATE KEY-----")
}

// WriteFiles materializes every file-typed value of config with mode 0600
func (e *Engine) WriteFiles(oc *types.ObjectConfig, spec *Spec, config map[string]any) error {
	for _, r := range spec.Leaves() {
		if r.Type != types.FieldFile {
			continue
		}
		v, _ := Value(config, r.Name, r.Subname)
		content, ok := v.(string)
		if !ok {
			continue
		}
		if isPrivateKey(content) && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		path := e.FilePath(oc, r.Name, r.Subname)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return fmt.Errorf("failed to create file dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", path, err)
		}
	}
	return nil
}

func (e *Engine) materializeAfterCommit(tx *storage.Tx, oc *types.ObjectConfig, spec *Spec, config map[string]any) {
	if spec == nil {
		return
	}
	has := false
	for _, r := range spec.Leaves() {
		if r.Type == types.FieldFile {
			has = true
			break
		}
	}
	if !has {
		return
	}
	ocCopy := *oc
	tx.AfterCommit(func() {
		if err := e.WriteFiles(&ocCopy, spec, config); err != nil {
			e.logger.Error().Err(err).Str("owner", ocCopy.Owner.String()).Msg("failed to materialize config files")
		}
	})
}
