package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/lex"
)

// typed is the inferred type of an expression.
type typed struct {
	typ      catalog.Type
	known    bool
	nullable bool
	// col and src are set for direct column references.
	col   *catalog.Column
	src   *source
	table string
	agg   bool
	param *paramRef
	lit   *literal
}

func known(t catalog.Type, nullable bool) typed {
	return typed{typ: t, known: true, nullable: nullable}
}

// source is a table in scope under an alias.
type source struct {
	alias    string
	table    *catalog.Table
	base     bool
	nullable bool
}

func (s *source) typed(col *catalog.Column) typed {
	return typed{
		typ:      col.Type,
		known:    true,
		nullable: col.Nullable() || s.nullable,
		col:      col,
		src:      s,
		table:    s.table.Name,
	}
}

type scope struct {
	parent  *scope
	sources []*source
	// using holds column names merged by USING or NATURAL joins.
	using map[string]bool
	// aliases are result column aliases.
	aliases map[string]typed
}

func (sc *scope) resolve(ref *colRef) (typed, *Error) {
	name := strings.ToLower(ref.name)
	for s := sc; s != nil; s = s.parent {
		if ref.qual != "" {
			for _, src := range s.sources {
				if !strings.EqualFold(src.alias, ref.qual) {
					continue
				}
				col := src.table.Column(ref.name)
				if col == nil {
					return typed{}, unresolved(ref.tok, ref.qual+"."+ref.name, "no such column %s.%s", ref.qual, ref.name)
				}
				return src.typed(col), nil
			}
			continue
		}
		var found []*source
		for _, src := range s.sources {
			if src.table.Column(ref.name) != nil {
				found = append(found, src)
			}
		}
		if len(found) > 1 && !s.using[name] {
			return typed{}, unresolved(ref.tok, ref.name, "ambiguous column name %q", ref.name)
		}
		if len(found) > 0 {
			return found[0].typed(found[0].table.Column(ref.name)), nil
		}
		if t, ok := s.aliases[name]; ok {
			return t, nil
		}
	}
	if ref.qual != "" {
		return typed{}, unresolved(ref.tok, ref.qual, "no such table or alias %q", ref.qual)
	}
	return typed{}, unresolved(ref.tok, ref.name, "no such column %q", ref.name)
}

func unresolved(t lex.Token, ident, format string, args ...any) *Error {
	return &Error{Kind: KindUnresolved, Pos: t.Pos, Ident: ident, Msg: fmt.Sprintf(format, args...)}
}

// binding is what a placeholder occurrence was inferred to be.
type binding struct {
	typ      catalog.Type
	nullable bool
	col      *catalog.Column
	table    string
	name     string
}

type analyzer struct {
	cat   *catalog.Catalog
	enums map[*catalog.Column]*Enum
	errs  []*Error
	// binds and setSites are keyed by the byte offset of the placeholder.
	binds    map[int]binding
	setSites map[int]string
	refs     map[*colRef]*source
}

func newAnalyzer(cat *catalog.Catalog, enums map[*catalog.Column]*Enum) *analyzer {
	return &analyzer{
		cat:      cat,
		enums:    enums,
		binds:    make(map[int]binding),
		setSites: make(map[int]string),
		refs:     make(map[*colRef]*source),
	}
}

func (a *analyzer) add(err *Error) { a.errs = append(a.errs, err) }

func (a *analyzer) errorf(kind ErrorKind, t lex.Token, format string, args ...any) {
	a.add(&Error{Kind: kind, Pos: t.Pos, Msg: fmt.Sprintf(format, args...)})
}

// bind records the type of a placeholder. The first context wins.
func (a *analyzer) bind(p *paramRef, t typed, name string) {
	if p == nil || !t.known {
		return
	}
	off := p.tok.Offset()
	if _, ok := a.binds[off]; ok {
		return
	}
	if name == "" && t.col != nil {
		name = t.col.Name
	}
	a.binds[off] = binding{typ: t.typ, nullable: t.nullable, col: t.col, table: t.table, name: name}
}

func (a *analyzer) checkEnum(t typed, lit *literal) {
	if lit == nil || lit.typ != classString || t.col == nil || len(t.col.Enum) == 0 {
		return
	}
	v := lit.tok.Unquote()
	if slices.Contains(t.col.Enum, v) {
		return
	}
	a.add(&Error{
		Kind:  KindEnum,
		Pos:   lit.tok.Pos,
		Ident: v,
		Msg:   fmt.Sprintf("value %q is not in the domain of %s.%s (%s)", v, t.table, t.col.Name, strings.Join(t.col.Enum, ", ")),
	})
}

// pair binds a placeholder on one side of a comparison to the other side.
func (a *analyzer) pair(l, r typed) {
	if l.param != nil {
		a.bind(l.param, r, "")
	}
	if r.param != nil {
		a.bind(r.param, l, "")
	}
}

var equality = map[string]bool{"=": true, "==": true, "!=": true, "<>": true, "IS": true, "IS NOT": true}

func (a *analyzer) expr(e expr, sc *scope) typed {
	switch e := e.(type) {
	case nil:
		return typed{}
	case *colRef:
		t, err := sc.resolve(e)
		if err != nil {
			a.add(err)
			return typed{}
		}
		if t.src != nil {
			a.refs[e] = t.src
		}
		return t
	case *paramRef:
		return typed{param: e}
	case *literal:
		t := typed{lit: e}
		switch e.typ {
		case classNull:
			t.nullable = true
		case classInt:
			t.typ, t.known = catalog.TypeInt, true
		case classFloat:
			t.typ, t.known = catalog.TypeFloat, true
		case classString:
			t.typ, t.known = catalog.TypeString, true
		case classBytes:
			t.typ, t.known = catalog.TypeBytes, true
		case classBool:
			t.typ, t.known = catalog.TypeBool, true
		}
		return t
	case *call:
		return a.call(e, sc)
	case *unary:
		x := a.expr(e.x, sc)
		switch e.op {
		case "NOT":
			return known(catalog.TypeBool, x.nullable)
		case "ISNULL", "NOTNULL":
			return known(catalog.TypeBool, false)
		case "~":
			a.bind(x.param, known(catalog.TypeInt, false), "")
			return known(catalog.TypeInt, x.nullable)
		default:
			return typed{typ: x.typ, known: x.known, nullable: x.nullable, lit: x.lit}
		}
	case *binary:
		return a.binary(e, sc)
	case *inExpr:
		x := a.expr(e.x, sc)
		if e.sub != nil {
			info := a.selectStmt(e.sub, sc, nil, nil)
			if len(info.cols) != 1 {
				a.errorf(KindArity, e.sub.tok, "IN subquery returns %d columns, want 1", len(info.cols))
			} else {
				a.bind(x.param, info.cols[0].t, "")
			}
		}
		for _, it := range e.list {
			t := a.expr(it, sc)
			a.bind(t.param, x, "")
			a.checkEnum(x, t.lit)
		}
		return known(catalog.TypeBool, x.nullable)
	case *betweenExpr:
		x := a.expr(e.x, sc)
		lo, hi := a.expr(e.lo, sc), a.expr(e.hi, sc)
		a.pair(x, lo)
		a.pair(x, hi)
		return known(catalog.TypeBool, x.nullable || lo.nullable || hi.nullable)
	case *castExpr:
		x := a.expr(e.x, sc)
		ct := catalog.Affinity(e.decl)
		a.bind(x.param, known(ct, false), "")
		return known(ct, x.nullable)
	case *caseExpr:
		var op typed
		if e.operand != nil {
			op = a.expr(e.operand, sc)
		}
		var res typed
		for _, w := range e.whens {
			c := a.expr(w.cond, sc)
			if e.operand != nil {
				a.pair(op, c)
				a.checkEnum(op, c.lit)
			}
			res = merge(res, a.expr(w.then, sc))
		}
		if e.els != nil {
			res = merge(res, a.expr(e.els, sc))
		} else {
			res.nullable = true
		}
		res.col, res.src, res.lit, res.param = nil, nil, nil, nil
		return res
	case *existsExpr:
		a.selectStmt(e.sub, sc, nil, nil)
		return known(catalog.TypeBool, false)
	case *subqueryExpr:
		info := a.selectStmt(e.sub, sc, nil, nil)
		if len(info.cols) != 1 {
			a.errorf(KindArity, e.tok, "scalar subquery returns %d columns, want 1", len(info.cols))
			return typed{}
		}
		t := info.cols[0].t
		return typed{typ: t.typ, known: t.known, nullable: true}
	case *rowExpr:
		for _, it := range e.items {
			a.expr(it, sc)
		}
		return typed{}
	default:
		panic(fmt.Sprintf("query: unexpected expression %T", e))
	}
}

func merge(res, t typed) typed {
	if !res.known && t.known {
		res.typ, res.known = t.typ, true
	}
	res.nullable = res.nullable || t.nullable
	return res
}

func (a *analyzer) binary(e *binary, sc *scope) typed {
	l, r := a.expr(e.l, sc), a.expr(e.r, sc)
	nullable := l.nullable || r.nullable
	switch e.op {
	case "AND", "OR":
		return known(catalog.TypeBool, nullable)
	case "=", "==", "!=", "<>", "<", "<=", ">", ">=", "IS", "IS NOT", "LIKE", "GLOB", "REGEXP", "MATCH":
		a.pair(l, r)
		if equality[e.op] {
			a.checkEnum(l, r.lit)
			a.checkEnum(r, l.lit)
		}
		if e.op == "IS" || e.op == "IS NOT" {
			nullable = false
		}
		return known(catalog.TypeBool, nullable)
	case "||":
		a.bind(l.param, known(catalog.TypeString, false), "")
		a.bind(r.param, known(catalog.TypeString, false), "")
		return known(catalog.TypeString, nullable)
	case "->":
		return known(catalog.TypeString, true)
	case "->>":
		return known(catalog.TypeAny, true)
	case "&", "|", "<<", ">>":
		a.bind(l.param, known(catalog.TypeInt, false), "")
		a.bind(r.param, known(catalog.TypeInt, false), "")
		return known(catalog.TypeInt, nullable)
	default:
		// Arithmetic: a placeholder takes the type of the other operand.
		a.pair(l, r)
		switch {
		case l.param != nil && r.known:
			l = r
		case r.param != nil && l.known:
			r = l
		}
		if !l.known || !r.known {
			return typed{}
		}
		if l.typ == catalog.TypeFloat || r.typ == catalog.TypeFloat {
			return known(catalog.TypeFloat, nullable)
		}
		if l.typ == catalog.TypeInt && r.typ == catalog.TypeInt {
			return known(catalog.TypeInt, nullable)
		}
		return known(catalog.TypeFloat, nullable)
	}
}

var (
	stringFuncs = map[string]bool{
		"lower": true, "upper": true, "trim": true, "ltrim": true, "rtrim": true,
		"substr": true, "substring": true, "replace": true, "printf": true, "format": true,
		"quote": true, "hex": true, "char": true, "date": true, "time": true,
		"datetime": true, "strftime": true, "json": true, "json_object": true, "json_array": true,
		"soundex": true, "concat": true, "concat_ws": true,
	}
	intFuncs = map[string]bool{
		"length": true, "octet_length": true, "instr": true, "unicode": true, "sign": true,
		"unixepoch": true, "json_array_length": true,
	}
)

func (a *analyzer) call(e *call, sc *scope) typed {
	args := make([]typed, len(e.args))
	for i, x := range e.args {
		args[i] = a.expr(x, sc)
	}
	if e.filter != nil {
		a.expr(e.filter, sc)
	}
	var (
		first    typed
		nullable bool
	)
	for _, t := range args {
		if t.known && !first.known {
			first = t
		}
		nullable = nullable || t.nullable
	}
	bindAll := func(t typed) {
		for _, x := range args {
			a.bind(x.param, typed{typ: t.typ, known: t.known}, "")
		}
	}
	agg := func(t typed) typed {
		t.agg = true
		return t
	}
	switch e.name {
	case "count":
		return agg(known(catalog.TypeInt, false))
	case "sum":
		if first.known && first.typ == catalog.TypeInt {
			return agg(known(catalog.TypeInt, true))
		}
		return agg(known(catalog.TypeFloat, true))
	case "total":
		return agg(known(catalog.TypeFloat, false))
	case "avg":
		return agg(known(catalog.TypeFloat, true))
	case "group_concat", "string_agg":
		return agg(known(catalog.TypeString, true))
	case "min", "max":
		if len(args) == 1 {
			return agg(typed{typ: first.typ, known: first.known, nullable: true})
		}
		bindAll(first)
		return typed{typ: first.typ, known: first.known, nullable: nullable}
	case "coalesce", "ifnull":
		bindAll(first)
		last := len(args) > 0 && (args[len(args)-1].nullable && args[len(args)-1].param == nil)
		return typed{typ: first.typ, known: first.known, nullable: last}
	case "nullif":
		bindAll(first)
		return typed{typ: first.typ, known: first.known, nullable: true}
	case "iif":
		if len(args) == 3 {
			t := merge(args[1], args[2])
			a.bind(args[1].param, t, "")
			a.bind(args[2].param, t, "")
			return typed{typ: t.typ, known: t.known, nullable: t.nullable}
		}
		return typed{}
	case "abs", "likely", "unlikely":
		bindAll(first)
		return typed{typ: first.typ, known: first.known, nullable: nullable}
	case "round", "julianday":
		return known(catalog.TypeFloat, nullable)
	case "random", "changes", "last_insert_rowid", "total_changes":
		return known(catalog.TypeInt, false)
	case "typeof":
		return known(catalog.TypeString, false)
	case "json_extract":
		return known(catalog.TypeAny, true)
	}
	switch {
	case stringFuncs[e.name]:
		bindAll(known(catalog.TypeString, false))
		return known(catalog.TypeString, nullable)
	case intFuncs[e.name]:
		return known(catalog.TypeInt, nullable)
	}
	return typed{}
}

// outCol is a column of a statement's result.
type outCol struct {
	name    string
	aliased bool
	t       typed
	// src is set when the value is taken straight from a table column.
	src *source
}

// stmtInfo is what the analyzer learned about a statement.
type stmtInfo struct {
	kind  StatementKind
	cols  []*outCol
	rows  bool
	scope *scope
	// target is the single table the statement reads or writes, if any.
	target *source
	where  expr

	noFrom        bool
	limitOne      bool
	aggregateOnly bool
	singleTuple   bool
}

func (a *analyzer) statement(stmt any) *stmtInfo {
	switch s := stmt.(type) {
	case *selectStmt:
		info := a.selectStmt(s, nil, nil, nil)
		info.rows = true
		return info
	case *insertStmt:
		return a.insertStmt(s)
	case *updateStmt:
		return a.updateStmt(s)
	case *deleteStmt:
		return a.deleteStmt(s)
	default:
		panic(fmt.Sprintf("query: unexpected statement %T", stmt))
	}
}

func (a *analyzer) fromScope(items []*fromItem, parent *scope, sc *scope) *scope {
	if sc == nil {
		sc = &scope{parent: parent}
	}
	if sc.using == nil {
		sc.using = make(map[string]bool)
	}
	for _, f := range items {
		src := &source{alias: f.alias}
		if f.sub != nil {
			info := a.selectStmt(f.sub, parent, nil, nil)
			t := &catalog.Table{Name: f.alias}
			for _, oc := range info.cols {
				col := &catalog.Column{Name: oc.name, Type: oc.t.typ, NotNull: !oc.t.nullable}
				if oc.t.col != nil {
					col.Enum = oc.t.col.Enum
				}
				t.Columns = append(t.Columns, col)
			}
			src.table = t
		} else {
			t := a.cat.Table(f.table)
			if t == nil {
				a.add(unresolved(f.tok, f.table, "no such table %q", f.table))
				continue
			}
			src.table, src.base = t, true
			if src.alias == "" {
				src.alias = t.Name
			}
		}
		switch f.join {
		case joinLeft:
			src.nullable = true
		case joinRight:
			for _, prev := range sc.sources {
				prev.nullable = true
			}
		case joinFull:
			src.nullable = true
			for _, prev := range sc.sources {
				prev.nullable = true
			}
		}
		if f.natural {
			for _, col := range src.table.Columns {
				for _, prev := range sc.sources {
					if prev.table.Column(col.Name) != nil {
						sc.using[strings.ToLower(col.Name)] = true
					}
				}
			}
		}
		for _, u := range f.using {
			if src.table.Column(u) == nil {
				a.add(unresolved(f.tok, u, "no such column %q in USING", u))
			}
			sc.using[strings.ToLower(u)] = true
		}
		sc.sources = append(sc.sources, src)
	}
	for _, f := range items {
		if f.on != nil {
			a.expr(f.on, sc)
		}
	}
	return sc
}

// results types a result column list. targets, when set, type bare
// placeholders by position (INSERT ... SELECT).
func (a *analyzer) results(items []*resultItem, sc *scope, targets []*catalog.Column, table *catalog.Table) []*outCol {
	var cols []*outCol
	for i, it := range items {
		if it.star {
			matched := false
			for _, src := range sc.sources {
				if it.qual != "" && !strings.EqualFold(src.alias, it.qual) {
					continue
				}
				matched = true
				for _, col := range src.table.Columns {
					cols = append(cols, &outCol{name: col.Name, t: src.typed(col), src: src})
				}
			}
			switch {
			case it.qual != "" && !matched:
				a.add(unresolved(it.tok, it.qual, "no such table or alias %q", it.qual))
			case len(sc.sources) == 0:
				a.errorf(KindUnsupported, it.tok, "* needs a FROM clause")
			}
			continue
		}
		t := a.expr(it.x, sc)
		oc := &outCol{name: it.alias, aliased: it.alias != "", t: t}
		switch x := it.x.(type) {
		case *colRef:
			if oc.name == "" {
				oc.name = x.name
			}
			if t.src != nil && t.src.base {
				oc.src = t.src
			}
		case *call:
			if oc.name == "" {
				oc.name = x.name
			}
		}
		if t.param != nil && i < len(targets) {
			col := targets[i]
			ct := typed{typ: col.Type, known: true, nullable: col.Nullable(), col: col, table: table.Name}
			a.bind(t.param, ct, col.Name)
			oc.t = ct
			if oc.name == "" {
				oc.name = col.Name
			}
		}
		switch {
		case t.param != nil && !oc.t.known:
			// Reported with the parameter.
		case oc.name == "":
			a.errorf(KindUnsupported, it.tok, "result column %d needs an alias", i+1)
		case !oc.t.known:
			a.errorf(KindUnsupported, it.tok, "cannot infer the type of result column %q; wrap it in CAST(... AS type)", oc.name)
		}
		cols = append(cols, oc)
	}
	return cols
}

func (a *analyzer) selectStmt(s *selectStmt, parent *scope, targets []*catalog.Column, table *catalog.Table) *stmtInfo {
	sc := a.fromScope(s.from, parent, nil)
	info := &stmtInfo{kind: Select, scope: sc, where: s.where, noFrom: len(s.from) == 0}
	info.cols = a.results(s.items, sc, targets, table)
	sc.aliases = make(map[string]typed)
	for _, oc := range info.cols {
		if oc.aliased {
			sc.aliases[strings.ToLower(oc.name)] = oc.t
		}
	}
	a.expr(s.where, sc)
	for _, g := range s.groupBy {
		a.expr(g, sc)
	}
	a.expr(s.having, sc)
	for _, o := range s.orderBy {
		a.expr(o, sc)
	}
	a.limit(s.limit, sc, "limit")
	a.limit(s.offset, sc, "offset")

	if len(sc.sources) == 1 && len(s.from) == 1 {
		info.target = sc.sources[0]
	}
	if lit, ok := s.limit.(*literal); ok && lit.typ == classInt && lit.tok.Text == "1" {
		info.limitOne = true
	}
	if len(s.groupBy) == 0 && len(info.cols) > 0 {
		info.aggregateOnly = !slices.ContainsFunc(info.cols, func(oc *outCol) bool { return !oc.t.agg })
	}
	return info
}

func (a *analyzer) limit(e expr, sc *scope, name string) {
	if p, ok := e.(*paramRef); ok {
		a.bind(p, known(catalog.TypeInt, false), name)
		return
	}
	a.expr(e, sc)
}

// assign types the value of a column assignment or INSERT position.
func (a *analyzer) assign(col *catalog.Column, table *catalog.Table, v typed) {
	a.bind(v.param, typed{typ: col.Type, known: true, nullable: col.Nullable(), col: col, table: table.Name}, col.Name)
	a.checkEnum(typed{col: col, table: table.Name}, v.lit)
}

func (a *analyzer) assignments(sets []*assignment, t *catalog.Table, sc *scope) {
	for _, as := range sets {
		vals := []expr{as.value}
		if len(as.cols) > 1 {
			row, ok := as.value.(*rowExpr)
			if !ok || len(row.items) != len(as.cols) {
				a.errorf(KindArity, as.cols[0], "assignment sets %d columns from a value of a different size", len(as.cols))
				a.expr(as.value, sc)
				continue
			}
			vals = row.items
		}
		for i, ctok := range as.cols {
			col := t.Column(ctok.Name())
			if col == nil {
				a.add(unresolved(ctok, ctok.Name(), "table %s has no column %q", t.Name, ctok.Name()))
				a.expr(vals[i], sc)
				continue
			}
			if col.Generated {
				a.errorf(KindUnsupported, ctok, "cannot assign generated column %q", col.Name)
			}
			v := a.expr(vals[i], sc)
			a.assign(col, t, v)
			if v.param != nil && len(as.cols) == 1 {
				a.setSites[v.param.tok.Offset()] = ctok.Text
			}
		}
	}
}

func (a *analyzer) target(tok lex.Token, alias string) *source {
	t := a.cat.Table(tok.Text)
	if t == nil {
		a.add(unresolved(tok, tok.Text, "no such table %q", tok.Text))
		return nil
	}
	if alias == "" {
		alias = t.Name
	}
	return &source{alias: alias, table: t, base: true}
}

func (a *analyzer) insertStmt(s *insertStmt) *stmtInfo {
	info := &stmtInfo{kind: Insert}
	src := a.target(s.table, s.alias)
	if src == nil {
		return info
	}
	t := src.table
	info.target = src
	info.scope = &scope{sources: []*source{src}}

	var cols []*catalog.Column
	if len(s.cols) > 0 {
		for _, ctok := range s.cols {
			col := t.Column(ctok.Name())
			if col == nil {
				a.add(unresolved(ctok, ctok.Name(), "table %s has no column %q", t.Name, ctok.Name()))
				continue
			}
			if col.Generated {
				a.errorf(KindUnsupported, ctok, "cannot insert into generated column %q", col.Name)
			}
			cols = append(cols, col)
		}
		if len(cols) != len(s.cols) {
			cols = nil
		}
	} else {
		for _, col := range t.Columns {
			if !col.Generated {
				cols = append(cols, col)
			}
		}
	}

	empty := &scope{}
	for _, tup := range s.values {
		if cols != nil && len(tup) != len(cols) {
			a.errorf(KindArity, tup[0].start(), "INSERT into %s names %d columns but a VALUES row has %d values", t.Name, len(cols), len(tup))
		}
		for i, v := range tup {
			vt := a.expr(v, empty)
			if cols != nil && i < len(cols) {
				a.assign(cols[i], t, vt)
			}
		}
	}
	info.singleTuple = len(s.values) == 1
	if s.sel != nil {
		sel := a.selectStmt(s.sel, nil, cols, t)
		if cols != nil && len(sel.cols) != len(cols) {
			a.errorf(KindArity, s.sel.tok, "INSERT into %s names %d columns but the SELECT returns %d", t.Name, len(cols), len(sel.cols))
		}
	}
	for _, u := range s.upserts {
		sc := &scope{sources: []*source{src, {alias: "excluded", table: t, base: true}}}
		for _, ctok := range u.target {
			if t.Column(ctok.Name()) == nil {
				a.add(unresolved(ctok, ctok.Name(), "table %s has no column %q", t.Name, ctok.Name()))
			}
		}
		a.expr(u.where, sc)
		a.assignments(u.sets, t, sc)
		a.expr(u.setWhr, sc)
	}
	if s.returning != nil {
		info.rows = true
		info.cols = a.results(s.returning, info.scope, nil, nil)
	}
	return info
}

func (a *analyzer) updateStmt(s *updateStmt) *stmtInfo {
	info := &stmtInfo{kind: Update, where: s.where}
	src := a.target(s.table, s.alias)
	if src == nil {
		return info
	}
	info.target = src
	sc := &scope{sources: []*source{src}}
	if len(s.from) > 0 {
		sc = a.fromScope(s.from, nil, sc)
		info.target = nil
	}
	info.scope = sc
	a.assignments(s.sets, src.table, sc)
	a.expr(s.where, sc)
	if s.returning != nil {
		info.rows = true
		info.cols = a.results(s.returning, &scope{sources: []*source{src}}, nil, nil)
	}
	return info
}

func (a *analyzer) deleteStmt(s *deleteStmt) *stmtInfo {
	info := &stmtInfo{kind: Delete, where: s.where}
	src := a.target(s.table, s.alias)
	if src == nil {
		return info
	}
	info.target = src
	info.scope = &scope{sources: []*source{src}}
	a.expr(s.where, info.scope)
	if s.returning != nil {
		info.rows = true
		info.cols = a.results(s.returning, info.scope, nil, nil)
	}
	return info
}

// pinsKey reports whether the AND-chain of where fixes every column of a
// primary or unique key of src by equality with a placeholder or literal.
func (a *analyzer) pinsKey(where expr, src *source) bool {
	pinned := make(map[string]bool)
	var walk func(e expr)
	walk = func(e expr) {
		b, ok := e.(*binary)
		if !ok {
			return
		}
		switch b.op {
		case "AND":
			walk(b.l)
			walk(b.r)
		case "=", "==", "IS":
			if name, ok := a.pinned(b.l, b.r, src); ok {
				pinned[name] = true
			}
			if name, ok := a.pinned(b.r, b.l, src); ok {
				pinned[name] = true
			}
		}
	}
	walk(where)
	for _, key := range src.table.Keys() {
		all := len(key) > 0
		for _, col := range key {
			if !pinned[strings.ToLower(col)] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (a *analyzer) pinned(col, value expr, src *source) (string, bool) {
	ref, ok := col.(*colRef)
	if !ok || a.refs[ref] != src {
		return "", false
	}
	switch v := value.(type) {
	case *paramRef:
		return strings.ToLower(ref.name), true
	case *literal:
		return strings.ToLower(ref.name), !v.null
	default:
		return "", false
	}
}
