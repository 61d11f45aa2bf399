package query

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/lex"
)

// maxParams is the highest placeholder number the engine accepts.
const maxParams = 32766

// Compile analyzes every query definition of srcs against cat. It returns
// either a complete package or a *CompileErrors listing every failure,
// never both.
func Compile(cat *catalog.Catalog, srcs []Source) (*Package, error) {
	fp, err := cat.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting catalog: %w", err)
	}
	pkg := &Package{Fingerprint: fp}
	enums := buildModels(cat, pkg)

	var errs []*Error
	seen := make(map[string]lexer.Position)
	for _, src := range srcs {
		defs, derrs := Parse(src)
		errs = append(errs, derrs...)
		f := &File{Name: strings.TrimSuffix(path.Base(src.Name), path.Ext(src.Name))}
		for _, def := range defs {
			key := Pascal(def.Name)
			if prev, ok := seen[key]; ok {
				errs = append(errs, &Error{
					Kind:  KindDefinition,
					Query: def.Name,
					Pos:   def.Pos,
					Msg:   fmt.Sprintf("duplicate query name (first defined at %s:%d)", prev.Filename, prev.Line),
				})
				continue
			}
			seen[key] = def.Pos
			q, qerrs := compileQuery(cat, pkg, enums, def)
			errs = append(errs, qerrs...)
			if q != nil {
				f.Queries = append(f.Queries, q)
			}
		}
		pkg.Files = append(pkg.Files, f)
	}
	if len(errs) > 0 {
		return nil, &CompileErrors{Errors: errs}
	}
	return pkg, nil
}

func buildModels(cat *catalog.Catalog, pkg *Package) map[*catalog.Column]*Enum {
	enums := make(map[*catalog.Column]*Enum)
	models := namer{}
	for _, t := range cat.Tables {
		m := &Model{Name: models.name(ModelName(t.Name)), Table: t.Name}
		fields := namer{}
		for _, c := range t.Columns {
			f := &Field{Name: fields.name(Pascal(c.Name)), Column: c.Name, Type: c.Type, Nullable: c.Nullable()}
			if len(c.Enum) > 0 {
				e := &Enum{Name: m.Name + Pascal(c.Name), Table: t.Name, Column: c.Name, Values: c.Enum}
				enums[c] = e
				pkg.Enums = append(pkg.Enums, e)
				f.Enum = e
			}
			m.Fields = append(m.Fields, f)
		}
		pkg.Models = append(pkg.Models, m)
	}
	return enums
}

func compileQuery(cat *catalog.Catalog, pkg *Package, enums map[*catalog.Column]*Enum, def *Definition) (*Query, []*Error) {
	p := &parser{c: lex.NewCursor(def.Tokens)}
	stmt, err := p.statement()
	if err != nil {
		return nil, []*Error{syntaxError(def.Name, err)}
	}
	a := newAnalyzer(cat, enums)
	info := a.statement(stmt)

	q := &Query{
		Name:        Pascal(def.Name),
		Cardinality: def.Cardinality,
		Kind:        info.kind,
		Doc:         def.Doc,
		Source:      def.Source,
		Pos:         def.Pos,
	}
	a.params(def, q)
	a.cardinality(def, q, info)
	if len(a.errs) == 0 && info.rows && q.Cardinality != Exec {
		q.Result = a.result(pkg, info)
	}
	if len(a.errs) == 0 && q.Cardinality == One {
		q.Risk = a.risk(info)
	}
	for _, e := range a.errs {
		if e.Query == "" {
			e.Query = def.Name
		}
	}
	if len(a.errs) > 0 {
		return nil, a.errs
	}
	return q, nil
}

type occurrence struct {
	tok lex.Token
	idx int
}

// params numbers the placeholders the way the engine does, builds the
// parameter list and rewrites the statement into positional form.
func (a *analyzer) params(def *Definition, q *Query) {
	var (
		occs    []occurrence
		named   = make(map[string]int)
		largest int
	)
	for _, t := range def.Tokens {
		if t.Kind != lex.Param {
			continue
		}
		var idx int
		switch {
		case t.Text == "?":
			idx = largest + 1
		case t.Text[0] == '?':
			n, err := strconv.Atoi(t.Text[1:])
			if err != nil || n < 1 || n > maxParams {
				a.errorf(KindArity, t, "placeholder %s is out of range", t.Text)
				continue
			}
			idx = n
		default:
			if i, ok := named[t.Text]; ok {
				idx = i
			} else {
				idx = largest + 1
				named[t.Text] = idx
			}
		}
		largest = max(largest, idx)
		occs = append(occs, occurrence{tok: t, idx: idx})
	}

	byIdx := make([][]occurrence, largest+1)
	for _, o := range occs {
		byIdx[o.idx] = append(byIdx[o.idx], o)
	}
	for i := 1; i <= largest; i++ {
		if len(byIdx[i]) == 0 {
			a.errorf(KindArity, def.Tokens[0], "placeholder ?%d is never used; numbered placeholders must not leave gaps", i)
		}
	}
	if def.Params != nil && len(def.Params) != largest {
		a.add(&Error{Kind: KindArity, Pos: def.Pos, Msg: fmt.Sprintf("-- params declares %d parameters but the statement has %d", len(def.Params), largest)})
	}

	names, fields := namer{}, namer{}
	params := make([]*Param, largest)
	for i := 1; i <= largest; i++ {
		if len(byIdx[i]) == 0 {
			continue
		}
		p := &Param{Args: 1}
		var (
			b         *binding
			namedText string
		)
		for _, o := range byIdx[i] {
			if bb, ok := a.binds[o.tok.Offset()]; ok && b == nil {
				b = &bb
			}
			if o.tok.Text[0] != '?' {
				namedText = o.tok.Text[1:]
			}
		}
		var decl *ParamDecl
		if def.Params != nil && i-1 < len(def.Params) {
			decl = &def.Params[i-1]
		}
		switch {
		case decl != nil:
			p.Name = decl.Name
		case namedText != "":
			p.Name = namedText
		case b != nil && b.name != "":
			p.Name = b.name
		default:
			p.Name = fmt.Sprintf("arg%d", i)
		}
		p.Name = names.name(p.Name)
		p.Field = fields.name(Pascal(p.Name))
		if b != nil {
			p.Type, p.Nullable = b.typ, b.nullable
			if b.col != nil {
				p.Column = b.table + "." + b.col.Name
				p.Enum = a.enums[b.col]
			}
		}
		if decl != nil && decl.Type != "" {
			p.Type, p.Nullable, p.Enum = decl.Type, false, nil
		}
		first := byIdx[i][0].tok
		if decl != nil && decl.Optional {
			p.Optional, p.Args, p.Nullable = true, 2, false
			for _, o := range byIdx[i] {
				if _, ok := a.setSites[o.tok.Offset()]; !ok {
					a.errorf(KindUnsupported, o.tok, "optional parameter %s is only allowed as the value of a SET assignment", p.Name)
				}
			}
		}
		if p.Type == "" {
			a.errorf(KindUnsupported, first, "cannot infer the type of parameter %s; use CAST(%s AS type) or declare it as %s:type in -- params", p.Name, first.Text, p.Name)
		}
		params[i-1] = p
	}
	if len(a.errs) > 0 {
		return
	}

	var (
		sql   strings.Builder
		binds []Bind
		pos   = def.Tokens[0].Offset()
	)
	for _, o := range occs {
		sql.WriteString(def.Text[pos:o.tok.Offset()])
		p := params[o.idx-1]
		if p.Optional {
			fmt.Fprintf(&sql, "CASE WHEN ? THEN ? ELSE %s END", a.setSites[o.tok.Offset()])
			binds = append(binds, Bind{Param: o.idx - 1, Flag: true}, Bind{Param: o.idx - 1})
		} else {
			sql.WriteString("?")
			binds = append(binds, Bind{Param: o.idx - 1})
		}
		pos = o.tok.End
	}
	sql.WriteString(def.Text[pos:def.Tokens[len(def.Tokens)-2].End])
	q.SQL, q.Params, q.Binds = sql.String(), params, binds
}

func (a *analyzer) cardinality(def *Definition, q *Query, info *stmtInfo) {
	switch q.Cardinality {
	case One, Many:
		if !info.rows {
			a.add(&Error{Kind: KindDefinition, Pos: def.Pos, Msg: fmt.Sprintf(":%s query returns no rows; add RETURNING or use :exec", q.Cardinality)})
		}
	case Exec:
		if info.kind == Select {
			a.add(&Error{Kind: KindDefinition, Pos: def.Pos, Msg: ":exec cannot run a SELECT; use :one or :many"})
		}
	case Batch:
		if info.kind == Select {
			a.add(&Error{Kind: KindDefinition, Pos: def.Pos, Msg: ":batch cannot run a SELECT; use :many"})
		}
		if len(q.Params) == 0 && len(a.errs) == 0 {
			a.add(&Error{Kind: KindArity, Pos: def.Pos, Msg: ":batch query has no parameters"})
		}
	}
}

func (a *analyzer) result(pkg *Package, info *stmtInfo) *Result {
	r := &Result{}
	composite := info.kind == Select && info.scope != nil && len(info.scope.sources) > 1
	groups := make(map[*source]*Group)
	for _, oc := range info.cols {
		rc := &ResultColumn{Name: oc.name, Type: oc.t.typ, Nullable: oc.t.nullable}
		if oc.src != nil && oc.t.col != nil {
			rc.Table, rc.Column = oc.src.table.Name, oc.t.col.Name
			rc.Enum = a.enums[oc.t.col]
		}
		if composite && oc.src != nil {
			g := groups[oc.src]
			if g == nil {
				g = &Group{Alias: oc.src.alias, Table: oc.src.table.Name}
				groups[oc.src] = g
				r.Groups = append(r.Groups, g)
			}
			rc.Group = g
			g.Columns = append(g.Columns, rc)
		}
		r.Columns = append(r.Columns, rc)
	}

	top := namer{}
	for _, rc := range r.TopLevel() {
		rc.Field = top.name(Pascal(rc.Name))
	}
	for src, g := range groups {
		if !src.nullable && wholeRow(g.Columns, src.table) {
			g.Model = pkg.Model(g.Table)
		}
	}
	for _, g := range r.Groups {
		if strings.EqualFold(g.Alias, g.Table) {
			g.Field = top.name(ModelName(g.Table))
		} else {
			g.Field = top.name(Pascal(g.Alias))
		}
		fields := namer{}
		for _, rc := range g.Columns {
			rc.Field = fields.name(Pascal(rc.Name))
		}
	}
	if !composite && info.scope != nil && len(info.scope.sources) == 1 {
		src := info.scope.sources[0]
		if src.base && !src.nullable && wholeRow(r.Columns, src.table) {
			r.Model = pkg.Model(src.table.Name)
		}
	}
	return r
}

// wholeRow reports whether cols are exactly the columns of t in
// declaration order.
func wholeRow(cols []*ResultColumn, t *catalog.Table) bool {
	if len(cols) != len(t.Columns) {
		return false
	}
	for i, c := range cols {
		if c.Table != t.Name || c.Column != t.Columns[i].Name || c.Name != t.Columns[i].Name {
			return false
		}
	}
	return true
}

func (a *analyzer) risk(info *stmtInfo) string {
	switch info.kind {
	case Select:
		if info.limitOne || info.aggregateOnly || info.noFrom {
			return ""
		}
	case Insert:
		if info.singleTuple {
			return ""
		}
		return "INSERT ... SELECT may return more than one row"
	}
	if info.target != nil && info.target.base && a.pinsKey(info.where, info.target) {
		return ""
	}
	if info.target != nil {
		return fmt.Sprintf("the WHERE clause does not pin a primary or unique key of %s; more than one matching row fails with a not-singular error", info.target.table.Name)
	}
	return "the query joins several tables without LIMIT 1; more than one matching row fails with a not-singular error"
}

type namer map[string]bool

func (n namer) name(s string) string {
	k := s
	for i := 2; n[strings.ToLower(k)]; i++ {
		k = fmt.Sprintf("%s%d", s, i)
	}
	n[strings.ToLower(k)] = true
	return k
}
