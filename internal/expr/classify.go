// Package expr classifies evaluate expressions before they are sent to the
// debuggee. Literals are answered locally, plain variable paths are read
// through the scope cache, and anything that needs the Lua VM to run code
// is sent as a watch expression.
package expr

import (
	"regexp"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Kind is the classification of one expression.
type Kind int

const (
	// Invalid expressions do not parse as a single Lua expression.
	Invalid Kind = iota
	Number
	String
	// Keyword covers Lua reserved words, including true, false and nil.
	Keyword
	// Path is an identifier optionally followed by dotted field accesses.
	Path
	// Runtime needs evaluation inside the VM: calls, operators, bracket indexes.
	Runtime
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case String:
		return "string"
	case Keyword:
		return "keyword"
	case Path:
		return "path"
	case Runtime:
		return "runtime"
	default:
		return "invalid"
	}
}

// IsLiteral reports whether the expression can be answered without a round trip.
func (k Kind) IsLiteral() bool {
	return k == Number || k == String || k == Keyword
}

var (
	digitsPattern = regexp.MustCompile(`^\d+$`)
	wordPattern   = regexp.MustCompile(`\w+`)
)

var keywords = map[string]struct{}{
	"local": {}, "function": {}, "true": {}, "false": {}, "do": {},
	"end": {}, "then": {}, "nil": {}, "if": {}, "while": {},
	"return": {}, "elseif": {}, "break": {}, "for": {}, "else": {},
	"or": {}, "and": {}, "goto": {}, "not": {},
}

// IsKeyword reports whether word is a filtered Lua keyword.
func IsKeyword(word string) bool {
	_, ok := keywords[word]
	return ok
}

// Classify returns the kind of expression.
func Classify(expression string) Kind {
	trimmed := strings.TrimSpace(expression)
	switch {
	case trimmed == "":
		return Invalid
	case digitsPattern.MatchString(trimmed):
		return Number
	case strings.HasPrefix(trimmed, `"`):
		return String
	case IsKeyword(trimmed):
		return Keyword
	}

	node, ok := parseExpr(trimmed)
	if !ok {
		return Invalid
	}
	kind := classifyNode(node)
	// a["b"] and a.b parse to the same node.
	if kind == Path && hasBracketIndex(trimmed) {
		return Runtime
	}
	return kind
}

// hasBracketIndex reports whether expression contains a '[' outside string literals.
func hasBracketIndex(expression string) bool {
	var quote byte
	for i := 0; i < len(expression); i++ {
		c := expression[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			return true
		}
	}
	return false
}

func parseExpr(expression string) (ast.Expr, bool) {
	chunk, err := parse.Parse(strings.NewReader("return "+expression), "<evaluate>")
	if err != nil || len(chunk) != 1 {
		return nil, false
	}
	ret, ok := chunk[0].(*ast.ReturnStmt)
	if !ok || len(ret.Exprs) != 1 {
		return nil, false
	}
	return ret.Exprs[0], true
}

func classifyNode(node ast.Expr) Kind {
	switch n := node.(type) {
	case *ast.NumberExpr:
		return Number
	case *ast.UnaryMinusOpExpr:
		if _, ok := n.Expr.(*ast.NumberExpr); ok {
			return Number
		}
		return Runtime
	case *ast.StringExpr:
		return String
	case *ast.TrueExpr, *ast.FalseExpr, *ast.NilExpr:
		return Keyword
	case *ast.IdentExpr:
		return Path
	case *ast.AttrGetExpr:
		if classifyNode(n.Object) != Path {
			return Runtime
		}
		if _, ok := n.Key.(*ast.StringExpr); ok {
			return Path
		}
		return Runtime
	case *ast.Comma3Expr, *ast.FunctionExpr, *ast.TableExpr:
		return Invalid
	default:
		return Runtime
	}
}

// Literal returns the display value and type of a literal expression.
// A string missing its closing quote gets one.
func Literal(expression string, kind Kind) (value, typ string) {
	value = strings.TrimSpace(expression)
	switch kind {
	case Number:
		return value, "number"
	case String:
		if strings.HasPrefix(value, `"`) && (len(value) == 1 || !strings.HasSuffix(value, `"`)) {
			value += `"`
		}
		return value, "string"
	default:
		return value, "object"
	}
}

// HoverPath joins the word tokens of expression with "-". It returns false
// when the expression holds no word characters.
func HoverPath(expression string) (string, bool) {
	tokens := wordPattern.FindAllString(expression, -1)
	if len(tokens) == 0 {
		return "", false
	}
	return strings.Join(tokens, "-"), true
}
