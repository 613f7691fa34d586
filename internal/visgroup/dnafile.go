package visgroup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// dnaFile is the on-disk shape of one branch's visibility-group table,
// compiled ahead of time by the out-of-scope DNA parser (spec.md §1, §3
// "Visibility group"). This package only needs to read its output.
type dnaFile struct {
	Zones map[uint32][]uint32 `yaml:"zones"`
}

// FileLoader loads branch visibility tables from YAML files named
// "<branch>.yaml" under a directory, one file per playground branch.
type FileLoader struct {
	dir string
}

// NewFileLoader returns a Loader reading pre-compiled DNA visibility
// tables from dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// Load reads the visibility table for branchZone (spec.md §4.5).
func (l *FileLoader) Load(branchZone uint32) (map[uint32][]uint32, error) {
	path := filepath.Join(l.dir, fmt.Sprintf("%d.yaml", branchZone))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("visgroup: reading DNA visibility file %s: %w", path, err)
	}
	var f dnaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("visgroup: parsing DNA visibility file %s: %w", path, err)
	}
	return f.Zones, nil
}
