// Package decode reads loosely typed fields out of JSON objects, such as the
// launch.json arguments an IDE forwards with launch and attach requests.
package decode

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Text returns obj.key when it is a JSON string.
func Text(obj gjson.Result, key string) (string, bool) {
	v := obj.Get(gjson.Escape(key))
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// TrimmedText is Text with surrounding space removed; blank values are absent.
func TrimmedText(obj gjson.Result, key string) (string, bool) {
	s, ok := Text(obj, key)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Int accepts an integral JSON number or decimal text, since launch.json
// values are sometimes written as "8818" after variable substitution.
func Int(obj gjson.Result, key string) (int, bool) {
	v := obj.Get(gjson.Escape(key))
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, false
		}
		return int(v.Num), true
	case gjson.String:
		n, err := strconv.Atoi(v.Str)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Texts returns the string elements of the array obj.key; other elements are
// skipped. A missing or non-array field yields nil.
func Texts(obj gjson.Result, key string) []string {
	v := obj.Get(gjson.Escape(key))
	if !v.IsArray() {
		return nil
	}
	out := []string{}
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.Str)
		}
	}
	return out
}

// Object converts obj into a generic map for forwarding verbatim.
func Object(obj gjson.Result) (map[string]any, bool) {
	if !obj.IsObject() {
		return nil, false
	}
	m, ok := obj.Value().(map[string]any)
	return m, ok
}
