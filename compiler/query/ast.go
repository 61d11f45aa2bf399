package query

import "github.com/syssam/sqlforge/compiler/lex"

// The analyzer works on a small syntax tree of the statement. Every node
// keeps the token it starts at, so errors point into the query file.

type expr interface {
	start() lex.Token
}

type (
	colRef struct {
		tok  lex.Token
		qual string
		name string
	}

	paramRef struct {
		tok lex.Token
	}

	literal struct {
		tok  lex.Token
		typ  typeClass
		null bool
	}

	call struct {
		tok      lex.Token
		name     string
		args     []expr
		star     bool
		distinct bool
		filter   expr
	}

	unary struct {
		tok lex.Token
		op  string
		x   expr
	}

	binary struct {
		tok  lex.Token
		op   string
		l, r expr
	}

	inExpr struct {
		tok  lex.Token
		x    expr
		list []expr
		sub  *selectStmt
		not  bool
	}

	betweenExpr struct {
		tok    lex.Token
		x      expr
		lo, hi expr
		not    bool
	}

	castExpr struct {
		tok  lex.Token
		x    expr
		decl string
	}

	whenClause struct {
		cond, then expr
	}

	caseExpr struct {
		tok     lex.Token
		operand expr
		whens   []whenClause
		els     expr
	}

	existsExpr struct {
		tok lex.Token
		sub *selectStmt
	}

	subqueryExpr struct {
		tok lex.Token
		sub *selectStmt
	}

	rowExpr struct {
		tok   lex.Token
		items []expr
	}
)

func (e *colRef) start() lex.Token       { return e.tok }
func (e *paramRef) start() lex.Token     { return e.tok }
func (e *literal) start() lex.Token      { return e.tok }
func (e *call) start() lex.Token         { return e.tok }
func (e *unary) start() lex.Token        { return e.tok }
func (e *binary) start() lex.Token       { return e.l.start() }
func (e *inExpr) start() lex.Token       { return e.x.start() }
func (e *betweenExpr) start() lex.Token  { return e.x.start() }
func (e *castExpr) start() lex.Token     { return e.tok }
func (e *caseExpr) start() lex.Token     { return e.tok }
func (e *existsExpr) start() lex.Token   { return e.tok }
func (e *subqueryExpr) start() lex.Token { return e.tok }
func (e *rowExpr) start() lex.Token      { return e.tok }

// typeClass is the literal class of a constant.
type typeClass int

const (
	classNull typeClass = iota
	classInt
	classFloat
	classString
	classBytes
	classBool
)

type resultItem struct {
	tok lex.Token
	// star is set for "*" and "t.*"; qual holds the t.
	star  bool
	qual  string
	x     expr
	alias string
}

type joinKind int

const (
	joinComma joinKind = iota
	joinInner
	joinLeft
	joinRight
	joinFull
	joinCross
)

type fromItem struct {
	tok     lex.Token
	table   string
	sub     *selectStmt
	alias   string
	join    joinKind
	natural bool
	on      expr
	using   []string
}

type selectStmt struct {
	tok      lex.Token
	distinct bool
	items    []*resultItem
	from     []*fromItem
	where    expr
	groupBy  []expr
	having   expr
	orderBy  []expr
	limit    expr
	offset   expr
}

type assignment struct {
	cols  []lex.Token
	value expr
}

type upsertClause struct {
	tok     lex.Token
	target  []lex.Token
	where   expr
	nothing bool
	sets    []*assignment
	setWhr  expr
}

type insertStmt struct {
	tok       lex.Token
	table     lex.Token
	alias     string
	cols      []lex.Token
	values    [][]expr
	sel       *selectStmt
	defaults  bool
	upserts   []*upsertClause
	returning []*resultItem
}

type updateStmt struct {
	tok       lex.Token
	table     lex.Token
	alias     string
	sets      []*assignment
	from      []*fromItem
	where     expr
	returning []*resultItem
}

type deleteStmt struct {
	tok       lex.Token
	table     lex.Token
	alias     string
	where     expr
	returning []*resultItem
}
