// Package hclmodel loads user-authored model files and translates them into
// the format-agnostic model. Discovery is recursive over .hcl files;
// decoding goes through gohcl into the schema structs; translation resolves
// the scalar-or-keyed attributes by cty type inspection and validates every
// user identifier against the reserved qualifier markers.
package hclmodel

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/epimorph/internal/ctxlog"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/schema"
)

// Loader reads and translates HCL model files.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a new HCL model loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads the model from path (a single .hcl file or a directory
// searched recursively), merges all files, translates and validates.
func (l *Loader) Load(ctx context.Context, path string) (model.Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findModelFiles(path)
	if err != nil {
		return model.Model{}, err
	}
	if len(files) == 0 {
		return model.Model{}, fmt.Errorf("no .hcl model files under %q", path)
	}
	logger.Debug("model files discovered", "path", path, "count", len(files))

	merged := schema.File{}
	for _, name := range files {
		f, diags := l.parser.ParseHCLFile(name)
		if diags.HasErrors() {
			return model.Model{}, fmt.Errorf("parsing %s: %w", name, diags)
		}
		var sf schema.File
		if diags := gohcl.DecodeBody(f.Body, nil, &sf); diags.HasErrors() {
			return model.Model{}, fmt.Errorf("decoding %s: %w", name, diags)
		}
		if sf.Model != nil {
			if merged.Model != nil {
				return model.Model{}, fmt.Errorf("%s: duplicate model block (already declared as %q)", name, merged.Model.Name)
			}
			merged.Model = sf.Model
		}
		if sf.Erlang != nil {
			if merged.Erlang != nil {
				return model.Model{}, fmt.Errorf("%s: duplicate erlang block", name)
			}
			merged.Erlang = sf.Erlang
		}
		merged.Inputs = append(merged.Inputs, sf.Inputs...)
		merged.Reactions = append(merged.Reactions, sf.Reactions...)
		merged.Observations = append(merged.Observations, sf.Observations...)
	}
	if merged.Model == nil {
		return model.Model{}, fmt.Errorf("no model block found under %q", path)
	}

	m, err := translate(&merged)
	if err != nil {
		return model.Model{}, err
	}
	if err := validate(m); err != nil {
		return model.Model{}, err
	}
	logger.Debug("model loaded",
		"model", m.Name,
		"inputs", len(m.Inputs),
		"reactions", len(m.Reactions),
		"observations", len(m.Observations),
		"populations", len(m.Populations))
	return m, nil
}

// findModelFiles returns the sorted .hcl files under path; a file path is
// returned as-is.
func findModelFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
