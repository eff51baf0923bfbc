package capdeps

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/txtar"

	"github.com/715d/capdeps/pkg/ir"
)

// Source file extensions.
const (
	extAssembly = ".casm"
	extBundle   = ".txtar"
	extEncoded  = ".cbor"
)

// LoaderOptions configures program loading.
type LoaderOptions struct {
	// Paths are source files or directories searched recursively.
	Paths []string
}

// LoadProgram parses every source under opts.Paths into one program. Files
// are parsed concurrently; all parse errors are reported together.
func LoadProgram(ctx context.Context, opts LoaderOptions) (*ir.Program, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no source paths provided")
	}

	files, err := collectFiles(opts.Paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no sources found in %v", opts.Paths)
	}

	// Each goroutine writes its own index; errors are merged under mu.
	results := make([][]*ir.Unit, len(files))
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			units, err := loadFile(file)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return nil
			}
			results[idx] = units
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}

	p := &ir.Program{}
	for _, units := range results {
		for _, u := range units {
			if err := p.Add(u); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", u.Source, err))
			}
		}
	}
	if err := p.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	return p, nil
}

// collectFiles expands directories into the source files they contain, in
// lexical order.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat source: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if isSource(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

func isSource(path string) bool {
	switch filepath.Ext(path) {
	case extAssembly, extBundle, extEncoded:
		return true
	}
	return false
}

func loadFile(path string) ([]*ir.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case extAssembly:
		return ir.Parse(path, bytes.NewReader(data))
	case extBundle:
		return ParseBundle(path, data)
	case extEncoded:
		p, err := ir.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, u := range p.Units {
			u.Source = path
		}
		return p.Units, nil
	}
	return nil, fmt.Errorf("%s: unsupported source", path)
}

// ParseBundle parses the .casm members of a txtar archive. Other members are
// ignored.
func ParseBundle(path string, data []byte) ([]*ir.Unit, error) {
	archive := txtar.Parse(data)
	var units []*ir.Unit
	for _, f := range archive.Files {
		if filepath.Ext(f.Name) != extAssembly {
			continue
		}
		parsed, err := ir.Parse(path+"/"+f.Name, bytes.NewReader(f.Data))
		if err != nil {
			return nil, err
		}
		units = append(units, parsed...)
	}
	return units, nil
}
