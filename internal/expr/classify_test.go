package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		expression string
		want       Kind
	}{
		{"", Invalid},
		{"   ", Invalid},
		{"42", Number},
		{"3.5", Number},
		{"-1", Number},
		{"0x1F", Number},
		{`"hello`, String},
		{`"hello"`, String},
		{`'single'`, String},
		{"nil", Keyword},
		{"true", Keyword},
		{"function", Keyword},
		{"local", Keyword},
		{"self", Path},
		{"self.hp", Path},
		{"a.b.c", Path},
		{`t["key"]`, Runtime},
		{`t["a b"]`, Runtime},
		{"list[1]", Runtime},
		{"list[i]", Runtime},
		{"self.items[1].name", Runtime},
		{"obj:method()", Runtime},
		{"fn(1, 2)", Runtime},
		{"#list", Runtime},
		{"a + b", Runtime},
		{"a <= b", Runtime},
		{"a .. b", Runtime},
		{"a and b", Runtime},
		{"not a", Runtime},
		{"-x", Runtime},
		{"fn().field", Runtime},
		{"(a)", Path},
		{"a b", Invalid},
		{"a =", Invalid},
		{"...", Invalid},
		{"{}", Invalid},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.expression), "expression %q", tc.expression)
	}
}

func TestHasBracketIndex(t *testing.T) {
	cases := []struct {
		expression string
		want       bool
	}{
		{"a.b", false},
		{"t[1]", true},
		{`t["]"]`, true},
		{`f("[").x`, false},
		{`f('[\'').x`, false},
		{`f("\"[").x`, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hasBracketIndex(tc.expression), "expression %q", tc.expression)
	}
}

func TestKindIsLiteral(t *testing.T) {
	assert.True(t, Number.IsLiteral())
	assert.True(t, String.IsLiteral())
	assert.True(t, Keyword.IsLiteral())
	assert.False(t, Path.IsLiteral())
	assert.False(t, Runtime.IsLiteral())
	assert.False(t, Invalid.IsLiteral())
}

func TestLiteral(t *testing.T) {
	cases := []struct {
		expression string
		kind       Kind
		value      string
		typ        string
	}{
		{"12", Number, "12", "number"},
		{`"abc`, String, `"abc"`, "string"},
		{`"abc"`, String, `"abc"`, "string"},
		{`"`, String, `""`, "string"},
		{`'abc'`, String, `'abc'`, "string"},
		{"nil", Keyword, "nil", "object"},
	}
	for _, tc := range cases {
		value, typ := Literal(tc.expression, tc.kind)
		assert.Equal(t, tc.value, value, tc.expression)
		assert.Equal(t, tc.typ, typ, tc.expression)
	}
}

func TestHoverPath(t *testing.T) {
	path, ok := HoverPath("self.items[1].name")
	assert.True(t, ok)
	assert.Equal(t, "self-items-1-name", path)

	path, ok = HoverPath(`t["key"]`)
	assert.True(t, ok)
	assert.Equal(t, "t-key", path)

	_, ok = HoverPath("...")
	assert.False(t, ok)
}
