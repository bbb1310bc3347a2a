package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed workflow with the file it came from.
type DefinitionFile struct {
	Workflow model.Workflow
	Path     string
}

// ParseWorkflow decodes a YAML or JSON workflow definition.
func ParseWorkflow(data []byte) (model.Workflow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return model.Workflow{}, fmt.Errorf("definition payload is empty")
	}
	var wf model.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return model.Workflow{}, fmt.Errorf("decode definition: %w", err)
	}
	return wf, nil
}

func LoadWorkflowFile(path string) (DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("%s: %w", path, err)
	}
	if wf.Id == "" {
		base := filepath.Base(path)
		wf.Id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return DefinitionFile{Workflow: wf, Path: filepath.Clean(path)}, nil
}

// LoadWorkflowDir parses every .yaml, .yml and .json file in dir, sorted by
// path. A missing directory yields no definitions.
func LoadWorkflowDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		def, err := LoadWorkflowFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

// LoadDir validates and saves every definition found in dir. Two files
// declaring the same workflow id is an error.
func (s *MetadataServiceImpl) LoadDir(ctx context.Context, dir string) (int, error) {
	defs, err := LoadWorkflowDir(dir)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]string)
	for _, def := range defs {
		if existing, ok := seen[def.Workflow.Id]; ok {
			return 0, fmt.Errorf("duplicate workflow id %s (%s and %s)", def.Workflow.Id, existing, def.Path)
		}
		seen[def.Workflow.Id] = def.Path
	}
	for _, def := range defs {
		if err := s.SaveWorkflow(ctx, def.Workflow); err != nil {
			return 0, fmt.Errorf("%s: %w", def.Path, err)
		}
	}
	logger.Info("loaded workflow definitions", zap.String("dir", dir), zap.Int("count", len(defs)))
	return len(defs), nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
