package gen

import (
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/sqlforge/compiler/query"
)

// multi renders a composite literal with one element per line.
var multi = jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}

// genQueries renders <file>.sql.go for the queries of one query file.
func (g *Generator) genQueries(qf *query.File) *jen.File {
	f := g.newFile()
	f.HeaderComment("source: " + qf.Name + ".sql")
	for _, q := range qf.Queries {
		g.genQuery(f, q)
	}
	return f
}

// accessorShape is what a generated method is built from.
type accessorShape struct {
	q *query.Query
	// params is the Params struct name, empty when parameters are passed
	// inline.
	params string
	// row is the decoded row type and scan its scan table, both nil for
	// statements without a result.
	row  jen.Code
	scan string
}

func (g *Generator) genQuery(f *jen.File, q *query.Query) {
	s := accessorShape{q: q}
	if len(q.Params) > 1 || q.Cardinality == query.Batch && len(q.Params) > 0 {
		s.params = q.Name + "Params"
	}

	f.Const().Id(unexport(q.Name)).Op("=").Add(sqlLit(q.SQL))

	if s.params != "" {
		f.Commentf("%s holds the parameters of %s.", s.params, q.Name)
		f.Type().Id(s.params).StructFunc(func(st *jen.Group) {
			for _, p := range q.Params {
				st.Id(p.Field).Add(paramType(p)).Tag(map[string]string{"json": p.Name})
			}
		})
	}
	if q.Result != nil {
		s.row, s.scan = g.genRow(f, q)
	}

	for _, line := range q.Doc {
		f.Comment(line)
	}
	if len(q.Doc) == 0 {
		f.Commentf("%s runs the %s query.", q.Name, q.Name)
	}
	if q.Risk != "" {
		f.Comment("")
		f.Comment("Warning: " + q.Risk + ".")
	}

	recv := jen.Id("q").Op("*").Id("Queries")
	switch q.Cardinality {
	case query.One:
		f.Func().Params(recv).Id(q.Name).Params(s.signature()...).Params(s.row, jen.Error()).BlockFunc(func(b *jen.Group) {
			s.unpack(b)
			b.Return(jen.Qual(accessorPkg, "One").Call(jen.Id("ctx"), jen.Id("q").Dot("drv"), jen.Lit(q.Name), jen.Id(unexport(q.Name)), s.args(), jen.Id(s.scan)))
		})
	case query.Many:
		f.Func().Params(recv).Id(q.Name).Params(s.signature()...).Qual("iter", "Seq2").Types(s.row, jen.Error()).BlockFunc(func(b *jen.Group) {
			s.unpack(b)
			b.Return(s.many())
		})
	case query.Exec:
		f.Func().Params(recv).Id(q.Name).Params(s.signature()...).Params(jen.Int64(), jen.Error()).BlockFunc(func(b *jen.Group) {
			s.unpack(b)
			b.Return(jen.Qual(accessorPkg, "Exec").Call(jen.Id("ctx"), jen.Id("q").Dot("drv"), jen.Id(unexport(q.Name)), s.args()))
		})
	case query.Batch:
		elem := jen.Int64()
		if q.Result != nil {
			elem = jen.Index().Add(s.row)
		}
		f.Func().Params(recv).Id(q.Name).Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("args").Index().Id(s.params),
		).Index().Qual(accessorPkg, "BatchResult").Types(elem).Block(
			jen.Return(jen.Qual(accessorPkg, "Batch").Call(
				jen.Id("ctx"),
				jen.Id("args"),
				jen.Func().Params(jen.Id("ctx").Qual("context", "Context"), jen.Id("arg").Id(s.params)).Params(elem, jen.Error()).BlockFunc(func(b *jen.Group) {
					s.unpack(b)
					if q.Result != nil {
						b.Return(jen.Qual(accessorPkg, "Collect").Call(s.many()))
						return
					}
					b.Return(jen.Qual(accessorPkg, "Exec").Call(jen.Id("ctx"), jen.Id("q").Dot("drv"), jen.Id(unexport(q.Name)), s.args()))
				}),
			)),
		)
	}
}

// genRow declares the row type of q, unless it reuses a table model, and
// its scan table. It returns the row type and the scan table name.
func (g *Generator) genRow(f *jen.File, q *query.Query) (jen.Code, string) {
	r := q.Result
	if r.Model != nil {
		return jen.Id(r.Model.Name), scanName(r.Model.Name)
	}
	scan := scanName(q.Name + "Row")
	if len(r.Columns) == 1 && !r.Composite() {
		c := r.Columns[0]
		f.Var().Id(scan).Op("=").Qual(accessorPkg, "ScanTable").Types(columnType(c)).Values(
			jen.Func().Params(jen.Id("v").Op("*").Add(columnType(c))).Any().Block(jen.Return(jen.Id("v"))),
		)
		return columnType(c), scan
	}

	row := q.Name + "Row"
	groupType := make(map[*query.Group]string)
	for _, grp := range r.Groups {
		if grp.Model != nil {
			groupType[grp] = grp.Model.Name
			continue
		}
		name := q.Name + grp.Field
		groupType[grp] = name
		f.Commentf("%s holds the %s columns of a %s row.", name, grp.Alias, row)
		f.Type().Id(name).StructFunc(func(st *jen.Group) {
			for _, c := range grp.Columns {
				st.Id(c.Field).Add(columnType(c)).Tag(map[string]string{"json": c.Name})
			}
		})
	}

	f.Commentf("%s is a row returned by %s.", row, q.Name)
	f.Type().Id(row).StructFunc(func(st *jen.Group) {
		emitted := make(map[*query.Group]bool)
		for _, c := range r.Columns {
			if c.Group == nil {
				st.Id(c.Field).Add(columnType(c)).Tag(map[string]string{"json": c.Name})
				continue
			}
			if !emitted[c.Group] {
				emitted[c.Group] = true
				st.Id(c.Group.Field).Id(groupType[c.Group]).Tag(map[string]string{"json": c.Group.Alias})
			}
		}
	})
	f.Var().Id(scan).Op("=").Qual(accessorPkg, "ScanTable").Types(jen.Id(row)).CustomFunc(multi, func(vals *jen.Group) {
		for _, c := range r.Columns {
			field := jen.Id("r")
			if c.Group != nil {
				field = field.Dot(c.Group.Field)
			}
			vals.Func().Params(jen.Id("r").Op("*").Id(row)).Any().Block(
				jen.Return(jen.Op("&").Add(field.Dot(c.Field))),
			)
		}
	})
	return jen.Id(row), scan
}

// signature returns the parameters of a one, many or exec method.
func (s accessorShape) signature() []jen.Code {
	sig := []jen.Code{jen.Id("ctx").Qual("context", "Context")}
	switch {
	case s.params != "":
		sig = append(sig, jen.Id("arg").Id(s.params))
	case len(s.q.Params) == 1:
		p := s.q.Params[0]
		sig = append(sig, jen.Id(s.local(p)).Add(paramType(p)))
	}
	return sig
}

// value returns the expression that holds parameter i.
func (s accessorShape) value(i int) *jen.Statement {
	if s.params != "" {
		return jen.Id("arg").Dot(s.q.Params[i].Field)
	}
	return jen.Id(s.local(s.q.Params[i]))
}

// local names an inline parameter so it does not shadow the statement
// constant.
func (s accessorShape) local(p *query.Param) string {
	n := localName(p.Name)
	if n == unexport(s.q.Name) {
		n += "Arg"
	}
	return n
}

// unpack splits every optional parameter into its flag and value.
func (s accessorShape) unpack(b *jen.Group) {
	for i, p := range s.q.Params {
		if p.Optional {
			b.List(jen.Id(fmt.Sprintf("set%d", i)), jen.Id(fmt.Sprintf("val%d", i))).Op(":=").Add(s.value(i)).Dot("Args").Call()
		}
	}
}

// args returns the positional arguments in bind order.
func (s accessorShape) args() jen.Code {
	return jen.Index().Any().ValuesFunc(func(vals *jen.Group) {
		for _, b := range s.q.Binds {
			p := s.q.Params[b.Param]
			switch {
			case b.Flag:
				vals.Id(fmt.Sprintf("set%d", b.Param))
			case p.Optional:
				vals.Id(fmt.Sprintf("val%d", b.Param))
			default:
				vals.Add(s.value(b.Param))
			}
		}
	})
}

func (s accessorShape) many() jen.Code {
	return jen.Qual(accessorPkg, "Many").Call(jen.Id("ctx"), jen.Id("q").Dot("drv"), jen.Lit(s.q.Name), jen.Id(unexport(s.q.Name)), s.args(), jen.Id(s.scan))
}
