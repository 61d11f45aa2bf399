package query

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	acronymsMu sync.RWMutex
	acronyms   = map[string]bool{
		"ACL": true, "API": true, "ASCII": true, "AWS": true, "CPU": true,
		"CSS": true, "DNS": true, "EOF": true, "GUID": true, "HTML": true,
		"HTTP": true, "HTTPS": true, "ID": true, "IP": true, "JSON": true,
		"LHS": true, "QPS": true, "RAM": true, "RHS": true, "RPC": true,
		"SLA": true, "SMTP": true, "SQL": true, "SSH": true, "SSO": true,
		"TCP": true, "TLS": true, "TTL": true, "UDP": true, "UI": true,
		"UID": true, "URI": true, "URL": true, "UTF8": true, "UUID": true,
		"VM": true, "XML": true, "XMPP": true, "XSRF": true, "XSS": true,
	}
)

// AddAcronym registers a word that is upper-cased as a whole in Go names.
func AddAcronym(word string) {
	acronymsMu.Lock()
	defer acronymsMu.Unlock()
	acronyms[strings.ToUpper(word)] = true
}

func isAcronym(w string) bool {
	acronymsMu.RLock()
	defer acronymsMu.RUnlock()
	return acronyms[strings.ToUpper(w)]
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.' || !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Pascal converts a SQL name into an exported Go identifier.
func Pascal(s string) string {
	// A Caser keeps state between calls and is not shared.
	title := cases.Title(language.English, cases.NoLower)
	var b strings.Builder
	for _, w := range words(s) {
		if isAcronym(w) {
			b.WriteString(strings.ToUpper(w))
			continue
		}
		b.WriteString(title.String(w))
	}
	out := b.String()
	if out == "" {
		return "X"
	}
	if r := rune(out[0]); unicode.IsDigit(r) {
		out = "X" + out
	}
	return out
}

// Camel converts a SQL name into an unexported Go identifier.
func Camel(s string) string {
	ws := words(s)
	if len(ws) == 0 {
		return "x"
	}
	first := strings.ToLower(ws[0])
	if len(ws) == 1 {
		return first
	}
	return first + Pascal(strings.Join(ws[1:], "_"))
}

// Snake converts a Go identifier into snake case.
func Snake(s string) string {
	var (
		b   strings.Builder
		rs  = []rune(s)
		low = func(i int) bool { return i < len(rs) && unicode.IsLower(rs[i]) }
	)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			// The plural "s" of a trailing acronym stays attached: UserIDs.
			plural := i+2 == len(rs) && rs[i+1] == 's'
			if i > 0 && rs[i-1] != '_' && (!unicode.IsUpper(rs[i-1]) || low(i+1) && !plural) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ModelName returns the model type name for a table: the singular of the
// table name in Pascal case.
func ModelName(table string) string {
	ws := words(table)
	if len(ws) == 0 {
		return Pascal(table)
	}
	ws[len(ws)-1] = inflect.Singularize(ws[len(ws)-1])
	return Pascal(strings.Join(ws, "_"))
}

// Plural returns the plural form of a Go name.
func Plural(name string) string {
	p := inflect.Pluralize(name)
	if p == name {
		p += "Slice"
	}
	return p
}
