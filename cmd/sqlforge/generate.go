package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/gen"
	"github.com/syssam/sqlforge/compiler/query"
	"github.com/syssam/sqlforge/derive"
	"github.com/syssam/sqlforge/internal/watch"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		check    bool
		watching bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compile query files into typed Go accessors",
		Long: `Compile the annotated query files against the schema built from the
migrations and write the generated accessors.

Compilation is all or nothing: any error leaves the output untouched.`,
		Example: `  # Generate accessors
  sqlforge generate

  # Fail when the checked-in accessors are out of date
  sqlforge generate --check

  # Regenerate whenever a migration, query or rules file changes
  sqlforge generate --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if check && watching {
				return ConfigError("--check and --watch are mutually exclusive", nil)
			}
			if check {
				return a.check(cmd.Context())
			}
			if !watching {
				return a.generate(cmd.Context())
			}
			w, err := watch.New(
				[]string{a.cfg.Migrations.Dir, a.cfg.Queries.Dir, a.cfg.Derive.Rules},
				func(ctx context.Context) error {
					if err := a.generate(ctx); err != nil {
						printError(a.stderr, err)
					}
					return nil
				},
				watch.WithLogger(a.log),
			)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Watching for changes. Press Ctrl+C to stop.")
			return w.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.BoolVar(&check, "check", false, "report out-of-date generated files instead of writing them")
	f.BoolVar(&watching, "watch", false, "regenerate when inputs change")
	f.String("queries", "", "query files directory")
	f.String("out", "", "output directory")
	f.String("package", "", "package name of the generated code")
	f.String("rules", "", "derived-state rules file checked against the schema")
	return cmd
}

// generator compiles the configured inputs.
func (a *app) generator() (*gen.Generator, error) {
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Build(store)
	if err != nil {
		return nil, err
	}
	if a.cfg.Derive.Rules != "" {
		rs, err := a.rules()
		if err != nil {
			return nil, err
		}
		if err := derive.Validate(rs, cat); err != nil {
			return nil, fmt.Errorf("validating %s: %w", a.cfg.Derive.Rules, err)
		}
	}
	srcs, err := query.LoadSources(a.fs, a.cfg.Queries.Dir)
	if err != nil {
		return nil, err
	}
	pkg, err := query.Compile(cat, srcs)
	if err != nil {
		return nil, err
	}
	opts := []gen.Option{gen.WithLogger(a.log)}
	if a.cfg.Generate.Package != "" {
		opts = append(opts, gen.WithPackage(a.cfg.Generate.Package))
	}
	return gen.New(pkg, opts...)
}

func (a *app) generate(ctx context.Context) error {
	g, err := a.generator()
	if err != nil {
		return err
	}
	written, err := g.Write(ctx, a.fs, a.cfg.Generate.Out)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		fmt.Fprintln(a.stdout, "Generated code is up to date.")
		return nil
	}
	green := color.New(color.FgGreen)
	for _, name := range written {
		green.Fprintf(a.stdout, "wrote %s\n", name)
	}
	return nil
}

func (a *app) check(ctx context.Context) error {
	g, err := a.generator()
	if err != nil {
		return err
	}
	diffs, err := g.Check(ctx, a.fs, a.cfg.Generate.Out)
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		color.New(color.FgGreen).Fprintln(a.stdout, "Generated code is up to date.")
		return nil
	}
	yellow := color.New(color.FgYellow)
	for _, d := range diffs {
		fmt.Fprintf(a.stdout, "  %s %s\n", yellow.Sprint(d.Reason), d.File)
	}
	return DriftError(fmt.Sprintf("%d generated file(s) out of date, run sqlforge generate", len(diffs)))
}
