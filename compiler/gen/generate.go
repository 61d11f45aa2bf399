package gen

import (
	"bytes"
	"context"
	"go/token"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"github.com/dave/jennifer/jen"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/imports"

	"github.com/syssam/sqlforge/compiler/query"
)

// Header is the first line of every generated file. Files starting with it
// are owned by the generator.
const Header = "Code generated by sqlforge. DO NOT EDIT."

// Generator renders the accessor package of a compiled query package.
type Generator struct {
	pkg     *query.Package
	name    string
	workers int
	log     *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithPackage sets the Go package name of the generated code.
func WithPackage(name string) Option {
	return func(g *Generator) error {
		if !token.IsIdentifier(name) || token.IsKeyword(name) {
			return optionErr("Package", name, "package name must be a Go identifier")
		}
		g.name = name
		return nil
	}
}

// WithWorkers sets the number of files rendered in parallel.
func WithWorkers(n int) Option {
	return func(g *Generator) error {
		if n < 1 {
			return optionErr("Workers", n, "need at least one worker")
		}
		g.workers = n
		return nil
	}
}

// WithLogger sets the logger for file writes.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) error {
		g.log = l
		return nil
	}
}

// New returns a generator for pkg. The package name defaults to "db".
func New(pkg *query.Package, opts ...Option) (*Generator, error) {
	if pkg == nil {
		return nil, optionErr("Package", nil, "no compiled query package")
	}
	g := &Generator{
		pkg:     pkg,
		name:    "db",
		workers: runtime.GOMAXPROCS(0),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// File is a rendered source file.
type File struct {
	Name    string
	Content []byte
}

// fileTask represents a single file generation task.
type fileTask struct {
	name  string
	build func() *jen.File
}

// Render renders every file of the accessor package in parallel and
// verifies each with the goimports formatter. Files are sorted by name.
func (g *Generator) Render(ctx context.Context) ([]File, error) {
	tasks := []fileTask{
		{name: "db.go", build: g.genDB},
		{name: "models.go", build: g.genModels},
	}
	for _, qf := range g.pkg.Files {
		if len(qf.Queries) == 0 {
			continue
		}
		tasks = append(tasks, fileTask{name: qf.Name + ".sql.go", build: func() *jen.File { return g.genQueries(qf) }})
	}

	files := make([]File, len(tasks))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, t := range tasks {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := g.render(t)
			if err != nil {
				return err
			}
			files[i] = File{Name: t.name, Content: src}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return files, nil
}

func (g *Generator) render(t fileTask) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.build().Render(&buf); err != nil {
		return nil, fileErr(PhaseRender, t.name, "", err)
	}
	src, err := imports.Process(t.name, buf.Bytes(), &imports.Options{Comments: true, TabIndent: true, TabWidth: 8, FormatOnly: true})
	if err != nil {
		return nil, fileErr(PhaseFormat, t.name, "generated source does not parse", err)
	}
	return src, nil
}

// newFile creates a new Jennifer file with the header comments.
func (g *Generator) newFile() *jen.File {
	f := jen.NewFile(g.name)
	f.HeaderComment(Header)
	f.HeaderComment("catalog: " + g.pkg.Fingerprint)
	return f
}
