// Package config is a sync.RWMutex-guarded, YAML-manifest-backed
// configuration for which live-tree target paths overlays are permitted
// to graft onto. The source of truth is a file on disk, reloaded on
// demand rather than via any watch mechanism.
package config

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/golang/glog"
	"github.com/minio/minio/pkg/wildcard"
	"gopkg.in/yaml.v3"
)

// TargetFilter is one allow/deny rule matched against a fragment's
// resolved target path. Patterns use shell-wildcard syntax ("*", "?").
type TargetFilter struct {
	Path string `yaml:"path"`
	Deny bool   `yaml:"deny"`
}

// manifest is the on-disk shape of the configuration file.
type manifest struct {
	TargetFilters []TargetFilter `yaml:"targetFilters"`
}

// OverlayConfig is the process-wide dynamic configuration for the overlay
// engine's optional admission policy: which target paths an overlay is
// allowed to touch at all, independent of the structural per-fragment
// validation every apply always runs. It is read far more often (once per
// fragment target resolution) than it is written (on reload), hence the
// RWMutex split.
type OverlayConfig struct {
	mux     sync.RWMutex
	path    string
	filters []TargetFilter
}

// NewOverlayConfig loads path once at startup. An empty path is not an
// error — it means "no target filters configured"; a non-empty path that
// cannot be read or parsed is an error.
func NewOverlayConfig(path string) (*OverlayConfig, error) {
	cd := &OverlayConfig{path: path}
	if path == "" {
		glog.Info("Configuration: no manifest path configured, loading no target filters")
		return cd, nil
	}
	if err := cd.Reload(); err != nil {
		return nil, err
	}
	return cd, nil
}

// ToFilter reports whether an overlay targeting targetPath should be
// rejected by configuration policy (as opposed to the structural
// validation every apply always runs, unconditionally).
func (cd *OverlayConfig) ToFilter(targetPath string) bool {
	cd.mux.RLock()
	defer cd.mux.RUnlock()
	for _, f := range cd.filters {
		if wildcard.Match(f.Path, targetPath) {
			return f.Deny
		}
	}
	return false
}

// Reload re-reads the manifest from disk and swaps in the new filter set
// if it changed.
func (cd *OverlayConfig) Reload() error {
	data, err := os.ReadFile(cd.path)
	if err != nil {
		return fmt.Errorf("config: reading manifest %s: %w", cd.path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("config: parsing manifest %s: %w", cd.path, err)
	}

	cd.mux.Lock()
	defer cd.mux.Unlock()
	if reflect.DeepEqual(m.TargetFilters, cd.filters) {
		glog.V(4).Infof("Configuration: target filters unchanged in %s", cd.path)
		return nil
	}
	glog.Infof("Configuration: loaded %d target filters from %s", len(m.TargetFilters), cd.path)
	cd.filters = m.TargetFilters
	return nil
}
