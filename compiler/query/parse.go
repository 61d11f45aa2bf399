package query

import (
	"fmt"
	"strings"

	"github.com/syssam/sqlforge/compiler/lex"
)

// reserved words cannot be used as bare aliases or column names.
var reserved = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`
		ALL AND AS ASC BETWEEN BY CASE CAST COLLATE CONFLICT CROSS CURRENT_DATE
		CURRENT_TIME CURRENT_TIMESTAMP DEFAULT DELETE DESC DISTINCT DO ELSE END
		ESCAPE EXCEPT EXISTS FALSE FILTER FROM FULL GLOB GROUP HAVING IN INDEXED
		INNER INSERT INTERSECT INTO IS ISNULL JOIN LEFT LIKE LIMIT MATCH NATURAL
		NOT NOTNULL NULL NULLS OFFSET ON OR ORDER OUTER OVER REGEXP RETURNING
		RIGHT SELECT SET THEN TRUE UNION UPDATE USING VALUES WHEN WHERE WINDOW WITH`) {
		m[w] = true
	}
	return m
}()

func isReserved(t lex.Token) bool {
	return t.Kind == lex.Ident && reserved[strings.ToUpper(t.Text)]
}

var binaryPrec = map[string]int{
	"<": 5, "<=": 5, ">": 5, ">=": 5,
	"&": 6, "|": 6, "<<": 6, ">>": 6,
	"+": 7, "-": 7,
	"*": 8, "/": 8, "%": 8,
	"||": 9, "->": 9, "->>": 9,
}

type parser struct {
	c *lex.Cursor
}

func (p *parser) unsupported(t lex.Token, format string, args ...any) error {
	return &Error{Kind: KindUnsupported, Pos: t.Pos, Msg: fmt.Sprintf(format, args...)}
}

// statement parses one of the supported statement kinds.
func (p *parser) statement() (any, error) {
	c := p.c
	var (
		stmt any
		err  error
	)
	switch {
	case c.Is("SELECT"):
		stmt, err = p.selectStmt()
	case c.Is("INSERT"), c.Is("REPLACE"):
		stmt, err = p.insertStmt()
	case c.Is("UPDATE"):
		stmt, err = p.updateStmt()
	case c.Is("DELETE"):
		stmt, err = p.deleteStmt()
	case c.Is("WITH"):
		return nil, p.unsupported(c.Peek(), "common table expressions are not supported")
	default:
		return nil, p.unsupported(c.Peek(), "statement %s is not supported; use SELECT, INSERT, UPDATE or DELETE", c.Peek())
	}
	if err != nil {
		return nil, err
	}
	if !c.Done() {
		return nil, c.Errorf("unexpected %s", c.Peek())
	}
	return stmt, nil
}

func (p *parser) selectStmt() (*selectStmt, error) {
	c := p.c
	s := &selectStmt{tok: c.Peek()}
	if err := c.Expect("SELECT"); err != nil {
		return nil, err
	}
	if c.Accept("DISTINCT") {
		s.distinct = true
	} else {
		c.Accept("ALL")
	}
	items, err := p.resultItems()
	if err != nil {
		return nil, err
	}
	s.items = items
	if c.Accept("FROM") {
		if s.from, err = p.fromItems(); err != nil {
			return nil, err
		}
	}
	if c.Accept("WHERE") {
		if s.where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if c.Accept("GROUP", "BY") {
		if s.groupBy, err = p.exprList(); err != nil {
			return nil, err
		}
		if c.Accept("HAVING") {
			if s.having, err = p.expr(); err != nil {
				return nil, err
			}
		}
	}
	if c.Is("WINDOW") {
		return nil, p.unsupported(c.Peek(), "window definitions are not supported")
	}
	if c.Is("UNION") || c.Is("INTERSECT") || c.Is("EXCEPT") {
		return nil, p.unsupported(c.Peek(), "compound SELECT statements are not supported")
	}
	if c.Accept("ORDER", "BY") {
		if s.orderBy, err = p.orderingTerms(); err != nil {
			return nil, err
		}
	}
	if c.Accept("LIMIT") {
		if s.limit, err = p.expr(); err != nil {
			return nil, err
		}
		switch {
		case c.Accept("OFFSET"):
			if s.offset, err = p.expr(); err != nil {
				return nil, err
			}
		case c.AcceptPunct(","):
			// LIMIT offset, count
			s.offset = s.limit
			if s.limit, err = p.expr(); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (p *parser) resultItems() ([]*resultItem, error) {
	c := p.c
	var items []*resultItem
	for {
		it := &resultItem{tok: c.Peek()}
		switch {
		case c.IsPunct("*"):
			c.Next()
			it.star = true
		case c.IsName() && c.PeekN(1).IsPunct(".") && c.PeekN(2).IsPunct("*"):
			it.star = true
			it.qual = c.Next().Name()
			c.Next()
			c.Next()
		default:
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			it.x = x
			alias, err := p.alias()
			if err != nil {
				return nil, err
			}
			it.alias = alias
		}
		items = append(items, it)
		if !c.AcceptPunct(",") {
			return items, nil
		}
	}
}

// alias parses an optional "[AS] name".
func (p *parser) alias() (string, error) {
	c := p.c
	if c.Accept("AS") {
		if c.Peek().Kind == lex.String {
			return c.Next().Unquote(), nil
		}
		return c.ExpectName()
	}
	if c.IsName() && !isReserved(c.Peek()) {
		return c.Next().Name(), nil
	}
	return "", nil
}

func (p *parser) fromItems() ([]*fromItem, error) {
	c := p.c
	var items []*fromItem
	join := joinComma
	natural := false
	for {
		it := &fromItem{tok: c.Peek(), join: join, natural: natural}
		if len(items) == 0 {
			it.join = joinInner
		}
		switch {
		case c.IsPunct("(") && c.PeekN(1).Is("SELECT"):
			c.Next()
			sub, err := p.selectStmt()
			if err != nil {
				return nil, err
			}
			if err := c.ExpectPunct(")"); err != nil {
				return nil, err
			}
			it.sub = sub
		case c.IsName() && !isReserved(c.Peek()):
			name, err := c.ExpectQualifiedName()
			if err != nil {
				return nil, err
			}
			if c.IsPunct("(") {
				return nil, p.unsupported(it.tok, "table-valued function %s is not supported", name)
			}
			it.table = name
		default:
			return nil, c.Errorf("expected table name, got %s", c.Peek())
		}
		alias, err := p.alias()
		if err != nil {
			return nil, err
		}
		it.alias = alias
		if c.Accept("INDEXED", "BY") {
			if _, err := c.ExpectName(); err != nil {
				return nil, err
			}
		} else {
			c.Accept("NOT", "INDEXED")
		}
		switch {
		case c.Accept("ON"):
			if it.on, err = p.expr(); err != nil {
				return nil, err
			}
		case c.Accept("USING"):
			names, err := p.nameList()
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				it.using = append(it.using, n.Name())
			}
		}
		items = append(items, it)

		natural = c.Accept("NATURAL")
		switch {
		case c.AcceptPunct(","):
			join = joinComma
			continue
		case c.Accept("LEFT"):
			join = joinLeft
			c.Accept("OUTER")
		case c.Accept("RIGHT"):
			join = joinRight
			c.Accept("OUTER")
		case c.Accept("FULL"):
			join = joinFull
			c.Accept("OUTER")
		case c.Accept("INNER"):
			join = joinInner
		case c.Accept("CROSS"):
			join = joinCross
		case c.Is("JOIN"):
			join = joinInner
		default:
			if natural {
				return nil, c.Errorf("expected JOIN after NATURAL, got %s", c.Peek())
			}
			return items, nil
		}
		if err := c.Expect("JOIN"); err != nil {
			return nil, err
		}
	}
}

// nameList parses "(a, b, ...)".
func (p *parser) nameList() ([]lex.Token, error) {
	c := p.c
	if err := c.ExpectPunct("("); err != nil {
		return nil, err
	}
	var names []lex.Token
	for {
		if !c.IsName() {
			return nil, c.Errorf("expected column name, got %s", c.Peek())
		}
		names = append(names, c.Next())
		if c.AcceptPunct(")") {
			return names, nil
		}
		if err := c.ExpectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) exprList() ([]expr, error) {
	var list []expr
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		list = append(list, x)
		if !p.c.AcceptPunct(",") {
			return list, nil
		}
	}
}

func (p *parser) orderingTerms() ([]expr, error) {
	c := p.c
	var list []expr
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		list = append(list, x)
		_ = c.Accept("ASC") || c.Accept("DESC")
		_ = c.Accept("NULLS", "FIRST") || c.Accept("NULLS", "LAST")
		if !c.AcceptPunct(",") {
			return list, nil
		}
	}
}

func (p *parser) returning() ([]*resultItem, error) {
	if !p.c.Accept("RETURNING") {
		return nil, nil
	}
	return p.resultItems()
}

func (p *parser) insertStmt() (*insertStmt, error) {
	c := p.c
	s := &insertStmt{tok: c.Peek()}
	if !c.Accept("REPLACE") {
		if err := c.Expect("INSERT"); err != nil {
			return nil, err
		}
		if c.Accept("OR") {
			if !c.Accept("ROLLBACK") && !c.Accept("ABORT") && !c.Accept("REPLACE") && !c.Accept("FAIL") && !c.Accept("IGNORE") {
				return nil, c.Errorf("expected conflict resolution after INSERT OR, got %s", c.Peek())
			}
		}
	}
	if err := c.Expect("INTO"); err != nil {
		return nil, err
	}
	s.table = c.Peek()
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return nil, err
	}
	s.table.Text = name
	if c.Accept("AS") {
		if s.alias, err = c.ExpectName(); err != nil {
			return nil, err
		}
	}
	if c.IsPunct("(") {
		if s.cols, err = p.nameList(); err != nil {
			return nil, err
		}
	}
	switch {
	case c.Accept("DEFAULT", "VALUES"):
		s.defaults = true
	case c.Accept("VALUES"):
		for {
			tup, err := p.tuple()
			if err != nil {
				return nil, err
			}
			s.values = append(s.values, tup)
			if !c.AcceptPunct(",") {
				break
			}
		}
	case c.Is("SELECT"):
		if s.sel, err = p.selectStmt(); err != nil {
			return nil, err
		}
	default:
		return nil, c.Errorf("expected VALUES, SELECT or DEFAULT VALUES, got %s", c.Peek())
	}
	for c.Is("ON", "CONFLICT") {
		u, err := p.upsert()
		if err != nil {
			return nil, err
		}
		s.upserts = append(s.upserts, u)
	}
	if s.returning, err = p.returning(); err != nil {
		return nil, err
	}
	return s, nil
}

// tuple parses "(expr, ...)" and keeps the opening token.
func (p *parser) tuple() ([]expr, error) {
	if err := p.c.ExpectPunct("("); err != nil {
		return nil, err
	}
	list, err := p.exprList()
	if err != nil {
		return nil, err
	}
	if err := p.c.ExpectPunct(")"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *parser) upsert() (*upsertClause, error) {
	c := p.c
	u := &upsertClause{tok: c.Peek()}
	c.Accept("ON", "CONFLICT")
	var err error
	if c.IsPunct("(") {
		if u.target, err = p.indexedColumns(); err != nil {
			return nil, err
		}
		if c.Accept("WHERE") {
			if u.where, err = p.expr(); err != nil {
				return nil, err
			}
		}
	}
	if err := c.Expect("DO"); err != nil {
		return nil, err
	}
	if c.Accept("NOTHING") {
		u.nothing = true
		return u, nil
	}
	if err := c.Expect("UPDATE", "SET"); err != nil {
		return nil, err
	}
	if u.sets, err = p.assignments(); err != nil {
		return nil, err
	}
	if c.Accept("WHERE") {
		if u.setWhr, err = p.expr(); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// indexedColumns parses a conflict target. Only plain column names are
// recorded.
func (p *parser) indexedColumns() ([]lex.Token, error) {
	c := p.c
	if err := c.ExpectPunct("("); err != nil {
		return nil, err
	}
	var cols []lex.Token
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if ref, ok := x.(*colRef); ok {
			cols = append(cols, ref.tok)
		}
		_ = c.Accept("ASC") || c.Accept("DESC")
		if c.AcceptPunct(")") {
			return cols, nil
		}
		if err := c.ExpectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) assignments() ([]*assignment, error) {
	c := p.c
	var list []*assignment
	for {
		a := &assignment{}
		if c.IsPunct("(") {
			cols, err := p.nameList()
			if err != nil {
				return nil, err
			}
			a.cols = cols
		} else {
			if !c.IsName() {
				return nil, c.Errorf("expected column name, got %s", c.Peek())
			}
			a.cols = []lex.Token{c.Next()}
		}
		if err := c.ExpectPunct("="); err != nil {
			return nil, err
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		a.value = x
		list = append(list, a)
		if !c.AcceptPunct(",") {
			return list, nil
		}
	}
}

func (p *parser) updateStmt() (*updateStmt, error) {
	c := p.c
	s := &updateStmt{tok: c.Peek()}
	c.Accept("UPDATE")
	if c.Accept("OR") {
		c.Next()
	}
	s.table = c.Peek()
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return nil, err
	}
	s.table.Text = name
	if s.alias, err = p.alias(); err != nil {
		return nil, err
	}
	if err := c.Expect("SET"); err != nil {
		return nil, err
	}
	if s.sets, err = p.assignments(); err != nil {
		return nil, err
	}
	if c.Accept("FROM") {
		if s.from, err = p.fromItems(); err != nil {
			return nil, err
		}
	}
	if c.Accept("WHERE") {
		if s.where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if s.returning, err = p.returning(); err != nil {
		return nil, err
	}
	if c.Is("ORDER") || c.Is("LIMIT") {
		return nil, p.unsupported(c.Peek(), "ORDER BY and LIMIT on UPDATE are not supported")
	}
	return s, nil
}

func (p *parser) deleteStmt() (*deleteStmt, error) {
	c := p.c
	s := &deleteStmt{tok: c.Peek()}
	if err := c.Expect("DELETE", "FROM"); err != nil {
		return nil, err
	}
	s.table = c.Peek()
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return nil, err
	}
	s.table.Text = name
	if s.alias, err = p.alias(); err != nil {
		return nil, err
	}
	if c.Accept("WHERE") {
		if s.where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if s.returning, err = p.returning(); err != nil {
		return nil, err
	}
	if c.Is("ORDER") || c.Is("LIMIT") {
		return nil, p.unsupported(c.Peek(), "ORDER BY and LIMIT on DELETE are not supported")
	}
	return s, nil
}

// Expressions, lowest precedence first.

func (p *parser) expr() (expr, error) {
	l, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.c.Is("OR") {
		t := p.c.Next()
		r, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		l = &binary{tok: t, op: "OR", l: l, r: r}
	}
	return l, nil
}

func (p *parser) andExpr() (expr, error) {
	l, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.c.Is("AND") {
		t := p.c.Next()
		r, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		l = &binary{tok: t, op: "AND", l: l, r: r}
	}
	return l, nil
}

func (p *parser) notExpr() (expr, error) {
	if p.c.Is("NOT") {
		t := p.c.Next()
		x, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &unary{tok: t, op: "NOT", x: x}, nil
	}
	return p.compareExpr()
}

func (p *parser) compareExpr() (expr, error) {
	c := p.c
	l, err := p.binaryExpr(5)
	if err != nil {
		return nil, err
	}
	for {
		t := c.Peek()
		not := false
		if c.Is("NOT") && (c.PeekN(1).Is("IN") || c.PeekN(1).Is("LIKE") || c.PeekN(1).Is("GLOB") ||
			c.PeekN(1).Is("REGEXP") || c.PeekN(1).Is("MATCH") || c.PeekN(1).Is("BETWEEN")) {
			c.Next()
			not = true
		}
		switch {
		case c.Accept("IN"):
			in := &inExpr{tok: t, x: l, not: not}
			if !c.IsPunct("(") {
				return nil, p.unsupported(c.Peek(), "IN with a table name is not supported")
			}
			if c.PeekN(1).Is("SELECT") {
				c.Next()
				if in.sub, err = p.selectStmt(); err != nil {
					return nil, err
				}
				if err := c.ExpectPunct(")"); err != nil {
					return nil, err
				}
			} else {
				c.Next()
				if !c.AcceptPunct(")") {
					if in.list, err = p.exprList(); err != nil {
						return nil, err
					}
					if err := c.ExpectPunct(")"); err != nil {
						return nil, err
					}
				}
			}
			l = in
		case c.Accept("BETWEEN"):
			b := &betweenExpr{tok: t, x: l, not: not}
			if b.lo, err = p.binaryExpr(5); err != nil {
				return nil, err
			}
			if err := c.Expect("AND"); err != nil {
				return nil, err
			}
			if b.hi, err = p.binaryExpr(5); err != nil {
				return nil, err
			}
			l = b
		case c.Is("LIKE"), c.Is("GLOB"), c.Is("REGEXP"), c.Is("MATCH"):
			op := strings.ToUpper(c.Next().Text)
			r, err := p.binaryExpr(5)
			if err != nil {
				return nil, err
			}
			l = &binary{tok: t, op: op, l: l, r: r}
			if c.Accept("ESCAPE") {
				if _, err := p.binaryExpr(5); err != nil {
					return nil, err
				}
			}
		case c.IsPunct("="), c.IsPunct("=="), c.IsPunct("!="), c.IsPunct("<>"):
			op := c.Next().Text
			r, err := p.binaryExpr(5)
			if err != nil {
				return nil, err
			}
			l = &binary{tok: t, op: op, l: l, r: r}
		case c.Is("IS"):
			c.Next()
			op := "IS"
			if c.Accept("NOT") {
				op = "IS NOT"
			}
			c.Accept("DISTINCT", "FROM")
			r, err := p.binaryExpr(5)
			if err != nil {
				return nil, err
			}
			l = &binary{tok: t, op: op, l: l, r: r}
		case c.Is("ISNULL"), c.Is("NOTNULL"), c.Is("NOT", "NULL"):
			op := "ISNULL"
			if !c.Accept("ISNULL") {
				op = "NOTNULL"
				_ = c.Accept("NOTNULL") || c.Accept("NOT", "NULL")
			}
			l = &unary{tok: t, op: op, x: l}
		default:
			if not {
				return nil, c.Errorf("unexpected %s after NOT", c.Peek())
			}
			return l, nil
		}
	}
}

func (p *parser) binaryExpr(minPrec int) (expr, error) {
	l, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		t := p.c.Peek()
		prec, ok := binaryPrec[t.Text]
		if !ok || t.Kind != lex.Operator || prec < minPrec {
			return l, nil
		}
		p.c.Next()
		r, err := p.binaryExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		l = &binary{tok: t, op: t.Text, l: l, r: r}
	}
}

func (p *parser) unaryExpr() (expr, error) {
	c := p.c
	if c.IsPunct("-") || c.IsPunct("+") || c.IsPunct("~") {
		t := c.Next()
		x, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return &unary{tok: t, op: t.Text, x: x}, nil
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for c.Accept("COLLATE") {
		if _, err := c.ExpectName(); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (p *parser) primary() (expr, error) {
	c := p.c
	t := c.Peek()
	switch t.Kind {
	case lex.Param:
		c.Next()
		return &paramRef{tok: t}, nil
	case lex.Number:
		c.Next()
		cls := classInt
		if !strings.HasPrefix(strings.ToLower(t.Text), "0x") && strings.ContainsAny(t.Text, ".eE") {
			cls = classFloat
		}
		return &literal{tok: t, typ: cls}, nil
	case lex.String:
		c.Next()
		return &literal{tok: t, typ: classString}, nil
	case lex.Blob:
		c.Next()
		return &literal{tok: t, typ: classBytes}, nil
	case lex.Punct:
		if !t.IsPunct("(") {
			break
		}
		if c.PeekN(1).Is("SELECT") {
			c.Next()
			sub, err := p.selectStmt()
			if err != nil {
				return nil, err
			}
			if err := c.ExpectPunct(")"); err != nil {
				return nil, err
			}
			return &subqueryExpr{tok: t, sub: sub}, nil
		}
		c.Next()
		list, err := p.exprList()
		if err != nil {
			return nil, err
		}
		if err := c.ExpectPunct(")"); err != nil {
			return nil, err
		}
		if len(list) == 1 {
			return list[0], nil
		}
		return &rowExpr{tok: t, items: list}, nil
	case lex.Ident, lex.QuotedIdent:
		return p.identExpr()
	}
	return nil, c.Errorf("unexpected %s in expression", t)
}

func (p *parser) identExpr() (expr, error) {
	c := p.c
	t := c.Peek()
	if t.Kind == lex.Ident {
		switch strings.ToUpper(t.Text) {
		case "NULL":
			c.Next()
			return &literal{tok: t, typ: classNull, null: true}, nil
		case "TRUE", "FALSE":
			c.Next()
			return &literal{tok: t, typ: classBool}, nil
		case "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME":
			c.Next()
			return &literal{tok: t, typ: classString}, nil
		case "CAST":
			return p.castExpr()
		case "CASE":
			return p.caseExpr()
		case "EXISTS":
			c.Next()
			if err := c.ExpectPunct("("); err != nil {
				return nil, err
			}
			sub, err := p.selectStmt()
			if err != nil {
				return nil, err
			}
			if err := c.ExpectPunct(")"); err != nil {
				return nil, err
			}
			return &existsExpr{tok: t, sub: sub}, nil
		case "RAISE":
			return nil, p.unsupported(t, "RAISE is only valid inside triggers")
		}
		if c.PeekN(1).IsPunct("(") {
			return p.callExpr()
		}
		if isReserved(t) {
			return nil, c.Errorf("unexpected %s in expression", t)
		}
	}
	c.Next()
	ref := &colRef{tok: t, name: t.Name()}
	if c.IsPunct(".") && (c.PeekN(1).Kind == lex.Ident || c.PeekN(1).Kind == lex.QuotedIdent) {
		c.Next()
		ref.qual = ref.name
		ref.tok = c.Peek()
		ref.name = c.Next().Name()
		// schema.table.column
		if c.IsPunct(".") && (c.PeekN(1).Kind == lex.Ident || c.PeekN(1).Kind == lex.QuotedIdent) {
			c.Next()
			ref.qual = ref.name
			ref.tok = c.Peek()
			ref.name = c.Next().Name()
		}
	}
	return ref, nil
}

func (p *parser) callExpr() (expr, error) {
	c := p.c
	t := c.Next()
	fn := &call{tok: t, name: strings.ToLower(t.Text)}
	c.Next() // (
	switch {
	case c.AcceptPunct("*"):
		fn.star = true
	case c.IsPunct(")"):
	default:
		fn.distinct = c.Accept("DISTINCT")
		args, err := p.exprList()
		if err != nil {
			return nil, err
		}
		fn.args = args
		if c.Is("ORDER", "BY") {
			return nil, p.unsupported(c.Peek(), "ORDER BY inside aggregate %s is not supported", fn.name)
		}
	}
	if err := c.ExpectPunct(")"); err != nil {
		return nil, err
	}
	if c.Accept("FILTER") {
		if err := c.ExpectPunct("("); err != nil {
			return nil, err
		}
		if err := c.Expect("WHERE"); err != nil {
			return nil, err
		}
		f, err := p.expr()
		if err != nil {
			return nil, err
		}
		fn.filter = f
		if err := c.ExpectPunct(")"); err != nil {
			return nil, err
		}
	}
	if c.Is("OVER") {
		return nil, p.unsupported(c.Peek(), "window function %s is not supported", fn.name)
	}
	return fn, nil
}

func (p *parser) castExpr() (expr, error) {
	c := p.c
	t := c.Next()
	if err := c.ExpectPunct("("); err != nil {
		return nil, err
	}
	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := c.Expect("AS"); err != nil {
		return nil, err
	}
	var words []string
	for c.Peek().Kind == lex.Ident {
		words = append(words, strings.ToUpper(c.Next().Text))
	}
	if len(words) == 0 {
		return nil, c.Errorf("expected type name, got %s", c.Peek())
	}
	if c.IsPunct("(") {
		if _, err := c.SkipGroup(); err != nil {
			return nil, err
		}
	}
	if err := c.ExpectPunct(")"); err != nil {
		return nil, err
	}
	return &castExpr{tok: t, x: x, decl: strings.Join(words, " ")}, nil
}

func (p *parser) caseExpr() (expr, error) {
	c := p.c
	ce := &caseExpr{tok: c.Next()}
	var err error
	if !c.Is("WHEN") {
		if ce.operand, err = p.expr(); err != nil {
			return nil, err
		}
	}
	for c.Accept("WHEN") {
		var w whenClause
		if w.cond, err = p.expr(); err != nil {
			return nil, err
		}
		if err := c.Expect("THEN"); err != nil {
			return nil, err
		}
		if w.then, err = p.expr(); err != nil {
			return nil, err
		}
		ce.whens = append(ce.whens, w)
	}
	if len(ce.whens) == 0 {
		return nil, c.Errorf("expected WHEN, got %s", c.Peek())
	}
	if c.Accept("ELSE") {
		if ce.els, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if err := c.Expect("END"); err != nil {
		return nil, err
	}
	return ce, nil
}
