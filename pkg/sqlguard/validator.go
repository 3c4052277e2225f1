// Package sqlguard gates SQL statements before they reach any pooled
// connection. Statements are parsed into a real AST, not keyword
// filtered, so comment and encoding tricks that defeat naive string
// matching fail at the grammar.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// DefaultMaxSelectDepth bounds nested SELECT keywords per statement.
const DefaultMaxSelectDepth = 3

// DefaultDeniedFunctions are refused in any casing, including names
// split across SQL comments. Timing, file I/O, cross-database link and
// XML/external-entity functions.
var DefaultDeniedFunctions = []string{
	"pg_sleep",
	"pg_sleep_for",
	"pg_sleep_until",
	"sleep",
	"benchmark",
	"pg_read_file",
	"pg_read_binary_file",
	"pg_ls_dir",
	"pg_stat_file",
	"lo_import",
	"lo_export",
	"load_file",
	"dblink",
	"dblink_connect",
	"file",
	"url",
	"xmlparse",
	"xmltable",
	"extractvalue",
	"updatexml",
	"copy",
}

// Result is the validator's verdict. A handler must never execute a
// statement that did not come back approved.
type Result struct {
	approved  bool
	statement string
	reason    string
}

// Approved reports whether the statement may be executed.
func (r Result) Approved() bool { return r.approved }

// Statement returns the approved statement text. Empty when rejected.
func (r Result) Statement() string { return r.statement }

// Reason returns the machine-readable rejection reason. Empty when
// approved.
func (r Result) Reason() string { return r.reason }

func approve(statement string) Result {
	return Result{approved: true, statement: statement}
}

func reject(format string, args ...any) Result {
	return Result{reason: fmt.Sprintf(format, args...)}
}

// Validator validates candidate statements. Stateless and safe for
// concurrent use.
type Validator struct {
	maxSelectDepth int
	denied         []deniedFunction
}

type deniedFunction struct {
	name    string
	pattern *regexp.Regexp
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxSelectDepth overrides the nested SELECT bound.
func WithMaxSelectDepth(n int) Option {
	return func(v *Validator) { v.maxSelectDepth = n }
}

// WithDeniedFunctions replaces the default denied function list.
func WithDeniedFunctions(names []string) Option {
	return func(v *Validator) { v.denied = compileDenied(names) }
}

// NewValidator creates a Validator with the default policy.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		maxSelectDepth: DefaultMaxSelectDepth,
		denied:         compileDenied(DefaultDeniedFunctions),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func compileDenied(names []string) []deniedFunction {
	denied := make([]deniedFunction, 0, len(names))
	for _, name := range names {
		denied = append(denied, deniedFunction{
			name:    name,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
		})
	}
	return denied
}

// Validate checks a candidate statement. requiredSchema, when
// non-empty, must appear literally as a schema qualifier in the
// statement text; this is layered on top of the AST checks, not a
// replacement for them.
func (v *Validator) Validate(statement, requiredSchema string) Result {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return reject("empty statement")
	}

	pieces, err := sqlparser.SplitStatementToPieces(trimmed)
	if err != nil {
		return reject("parse error: %v", err)
	}
	if len(pieces) != 1 {
		return reject("multiple statements are not allowed")
	}

	ast, err := sqlparser.Parse(trimmed)
	if err != nil {
		return reject("parse error: %v", err)
	}

	switch ast.(type) {
	case *sqlparser.Select:
		// the only statement shape allowed through
	case *sqlparser.Union:
		return reject("set operations are not allowed")
	default:
		return reject("only single SELECT statements are allowed")
	}

	// The denied scan runs on the raw input first. Quote and comment
	// tricks can desynchronize any rewriting of the text, so a denied
	// name appearing anywhere in the input is fatal regardless of
	// whether it sits in a literal or a comment.
	for _, fn := range v.denied {
		if fn.pattern.MatchString(trimmed) {
			return reject("denied function: %s", fn.name)
		}
	}

	// The layers below operate on comment-stripped text so that
	// tokens split across comments still match.
	stripped := stripComments(trimmed)

	if requiredSchema != "" {
		qualifier := strings.ToLower(requiredSchema) + "."
		if !strings.Contains(strings.ToLower(stripped), qualifier) {
			return reject("must reference %s schema", requiredSchema)
		}
	}

	for _, fn := range v.denied {
		if fn.pattern.MatchString(stripped) {
			return reject("denied function: %s", fn.name)
		}
	}

	if depth := countSelects(stripped); depth > v.maxSelectDepth {
		return reject("statement exceeds maximum of %d nested SELECTs", v.maxSelectDepth)
	}

	// The stripped text is what executes and what the audit records,
	// so it must itself still be a well-formed statement.
	if stripped != trimmed {
		if _, err := sqlparser.Parse(stripped); err != nil {
			return reject("parse error after comment removal: %v", err)
		}
	}

	return approve(stripped)
}

var selectKeyword = regexp.MustCompile(`(?i)\bselect\b`)

func countSelects(s string) int {
	return len(selectKeyword.FindAllStringIndex(s, -1))
}

// stripComments removes /* */ block comments and -- line comments,
// leaving no separator behind so a function name split across a
// comment rejoins into one token. String literals are preserved,
// including backslash-escaped quotes inside them.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	const (
		stateCode = iota
		stateBlockComment
		stateLineComment
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateCode
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case stateCode:
			switch {
			case c == '/' && i+1 < len(s) && s[i+1] == '*':
				state = stateBlockComment
				i++
			case c == '-' && i+1 < len(s) && s[i+1] == '-':
				state = stateLineComment
				i++
			case c == '\'':
				state = stateSingleQuote
				b.WriteByte(c)
			case c == '"':
				state = stateDoubleQuote
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				state = stateCode
				i++
			}
		case stateLineComment:
			if c == '\n' {
				state = stateCode
				b.WriteByte(c)
			}
		case stateSingleQuote:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				// MySQL-family backends honor backslash escapes in
				// string literals, so the escaped character cannot
				// terminate the literal.
				i++
				b.WriteByte(s[i])
			} else if c == '\'' {
				state = stateCode
			}
		case stateDoubleQuote:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				state = stateCode
			}
		}
	}

	return b.String()
}
