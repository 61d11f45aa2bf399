package gen

import (
	"strconv"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/sqlforge/compiler/query"
)

// genDB renders db.go: the Queries handle and its constructors.
func (g *Generator) genDB() *jen.File {
	f := g.newFile()
	f.PackageComment("Package " + g.name + " holds data accessors generated by sqlforge.")

	f.Comment("Fingerprint identifies the schema catalog the accessors were generated from.")
	f.Const().Id("Fingerprint").Op("=").Lit(g.pkg.Fingerprint)

	f.Comment("Queries runs the generated accessors over a driver or a transaction.")
	f.Type().Id("Queries").Struct(
		jen.Id("drv").Qual(dialectPkg, "ExecQuerier"),
	)

	f.Comment("New returns Queries that run over drv.")
	f.Func().Id("New").Params(jen.Id("drv").Qual(dialectPkg, "ExecQuerier")).Op("*").Id("Queries").Block(
		jen.Return(jen.Op("&").Id("Queries").Values(jen.Dict{jen.Id("drv"): jen.Id("drv")})),
	)

	f.Comment("WithTx returns Queries that run inside tx. The caller commits or rolls back.")
	f.Func().Params(jen.Id("q").Op("*").Id("Queries")).Id("WithTx").Params(jen.Id("tx").Qual(dialectPkg, "Tx")).Op("*").Id("Queries").Block(
		jen.Return(jen.Op("&").Id("Queries").Values(jen.Dict{jen.Id("drv"): jen.Id("tx")})),
	)
	return f
}

// genModels renders models.go: one struct per table, its scan table and
// the enum types.
func (g *Generator) genModels() *jen.File {
	f := g.newFile()
	for _, m := range g.pkg.Models {
		f.Commentf("%s is a row of the %s table.", m.Name, m.Table)
		f.Type().Id(m.Name).StructFunc(func(s *jen.Group) {
			for _, fd := range m.Fields {
				s.Id(fd.Name).Add(goType(fd.Type, fd.Nullable, fd.Enum)).Tag(map[string]string{"json": fd.Column})
			}
		})
		f.Var().Id(scanName(m.Name)).Op("=").Qual(accessorPkg, "ScanTable").Types(jen.Id(m.Name)).CustomFunc(multi, func(vals *jen.Group) {
			for _, fd := range m.Fields {
				vals.Func().Params(jen.Id("r").Op("*").Id(m.Name)).Any().Block(
					jen.Return(jen.Op("&").Id("r").Dot(fd.Name)),
				)
			}
		})
	}
	for _, e := range g.pkg.Enums {
		genEnum(f, e)
	}
	return f
}

func genEnum(f *jen.File, e *query.Enum) {
	consts := enumConsts(e)
	recv := jen.Id("e").Id(e.Name)

	f.Commentf("%s is the domain of %s.%s.", e.Name, e.Table, e.Column)
	f.Type().Id(e.Name).String()

	f.Const().DefsFunc(func(defs *jen.Group) {
		for i, v := range e.Values {
			defs.Id(consts[i]).Id(e.Name).Op("=").Lit(v)
		}
	})

	f.Comment("String implements fmt.Stringer.")
	f.Func().Params(recv.Clone()).Id("String").Params().String().Block(
		jen.Return(jen.String().Call(jen.Id("e"))),
	)

	f.Comment("Valid reports whether e is in the domain.")
	f.Func().Params(recv.Clone()).Id("Valid").Params().Bool().Block(
		jen.Switch(jen.Id("e")).BlockFunc(func(sw *jen.Group) {
			cases := make([]jen.Code, len(consts))
			for i, c := range consts {
				cases[i] = jen.Id(c)
			}
			sw.Case(cases...).Block(jen.Return(jen.True()))
		}),
		jen.Return(jen.False()),
	)

	f.Comment("Values returns the domain in declaration order.")
	f.Func().Params(jen.Id(e.Name)).Id("Values").Params().Index().Id(e.Name).Block(
		jen.Return(jen.Index().Id(e.Name).ValuesFunc(func(vals *jen.Group) {
			for _, c := range consts {
				vals.Id(c)
			}
		})),
	)

	f.Comment("Scan implements sql.Scanner. A stored value outside the domain fails with *sqlforge.EnumError.")
	f.Func().Params(jen.Id("e").Op("*").Id(e.Name)).Id("Scan").Params(jen.Id("src").Any()).Error().Block(
		jen.List(jen.Id("s"), jen.Err()).Op(":=").Qual(sqlforgePkg, "ScanEnum").Call(
			jen.Lit(e.Name),
			jen.Id("src"),
			jen.Func().Params(jen.Id("s").String()).Bool().Block(
				jen.Return(jen.Id(e.Name).Call(jen.Id("s")).Dot("Valid").Call()),
			),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Err())),
		jen.Op("*").Id("e").Op("=").Id(e.Name).Call(jen.Id("s")),
		jen.Return(jen.Nil()),
	)

	f.Comment("Value implements driver.Valuer. Binding a value outside the domain fails with *sqlforge.EnumError.")
	f.Func().Params(recv.Clone()).Id("Value").Params().Params(jen.Qual("database/sql/driver", "Value"), jen.Error()).Block(
		jen.If(jen.Op("!").Id("e").Dot("Valid").Call()).Block(
			jen.Return(jen.Nil(), jen.Qual(sqlforgePkg, "NewEnumError").Call(jen.Lit(e.Name), jen.String().Call(jen.Id("e")))),
		),
		jen.Return(jen.String().Call(jen.Id("e")), jen.Nil()),
	)
}

// enumConsts names the constants of an enum: the type name followed by
// the value in Pascal case.
func enumConsts(e *query.Enum) []string {
	seen := make(map[string]bool)
	names := make([]string, len(e.Values))
	for i, v := range e.Values {
		n := e.Name + query.Pascal(v)
		for j := 2; seen[n]; j++ {
			n = e.Name + query.Pascal(v) + strconv.Itoa(j)
		}
		seen[n] = true
		names[i] = n
	}
	return names
}

func scanName(typ string) string { return "scan" + typ }
