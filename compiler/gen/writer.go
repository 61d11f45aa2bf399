package gen

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Reasons a generated file is out of date.
const (
	Missing    = "missing"
	Modified   = "modified"
	Extraneous = "extraneous"
)

// Diff is a generated file that does not match what the generator renders.
type Diff struct {
	File   string
	Reason string
}

// Write renders the package and writes it into dir. Files whose content is
// unchanged are left alone, and previously generated files that are no
// longer rendered are removed. It returns the names of the files it wrote.
func (g *Generator) Write(ctx context.Context, fsys afero.Fs, dir string) ([]string, error) {
	files, err := g.Render(ctx)
	if err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fileErr(PhaseWrite, dir, "create output directory", err)
	}

	changed := make([]bool, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, f := range files {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, f.Name)
			old, err := afero.ReadFile(fsys, path)
			if err == nil && bytes.Equal(old, f.Content) {
				return nil
			}
			if err := afero.WriteFile(fsys, path, f.Content, 0o644); err != nil {
				return fileErr(PhaseWrite, path, "", err)
			}
			changed[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var written []string
	for i, f := range files {
		if changed[i] {
			written = append(written, f.Name)
			g.log.Debug("wrote generated file", "file", filepath.Join(dir, f.Name))
		}
	}
	stale, err := staleFiles(fsys, dir, files)
	if err != nil {
		return nil, err
	}
	for _, name := range stale {
		path := filepath.Join(dir, name)
		if err := fsys.Remove(path); err != nil {
			return nil, fileErr(PhaseWrite, path, "remove stale file", err)
		}
		g.log.Debug("removed stale generated file", "file", path)
	}
	return written, nil
}

// Check renders the package in memory and compares it with dir. An empty
// result means dir is up to date.
func (g *Generator) Check(ctx context.Context, fsys afero.Fs, dir string) ([]Diff, error) {
	files, err := g.Render(ctx)
	if err != nil {
		return nil, err
	}
	var diffs []Diff
	for _, f := range files {
		old, err := afero.ReadFile(fsys, filepath.Join(dir, f.Name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			diffs = append(diffs, Diff{File: f.Name, Reason: Missing})
		case err != nil:
			return nil, fileErr(PhaseCheck, f.Name, "", err)
		case !bytes.Equal(old, f.Content):
			diffs = append(diffs, Diff{File: f.Name, Reason: Modified})
		}
	}
	stale, err := staleFiles(fsys, dir, files)
	if err != nil {
		return nil, err
	}
	for _, name := range stale {
		diffs = append(diffs, Diff{File: name, Reason: Extraneous})
	}
	slices.SortFunc(diffs, func(a, b Diff) int { return strings.Compare(a.File, b.File) })
	return diffs, nil
}

// staleFiles lists the generated Go files in dir that the generator no
// longer renders. Hand-written files are never reported.
func staleFiles(fsys afero.Fs, dir string, files []File) ([]string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fileErr(PhaseCheck, dir, "read output directory", err)
	}
	rendered := make(map[string]bool, len(files))
	for _, f := range files {
		rendered[f.Name] = true
	}
	var stale []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || rendered[name] || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		ok, err := generated(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, fileErr(PhaseCheck, name, "", err)
		}
		if ok {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// generated reports whether the first line of the file is the generator
// header.
func generated(fsys afero.Fs, path string) (bool, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false, sc.Err()
	}
	return strings.TrimSpace(sc.Text()) == "// "+Header, nil
}
