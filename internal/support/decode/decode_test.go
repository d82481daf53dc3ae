package decode

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestTrimmedText(t *testing.T) {
	obj := gjson.Parse(`{"a":"  127.0.0.1  ","b":"   ","c":42,"d.e":"dotted"}`)

	got, ok := TrimmedText(obj, "a")
	if !ok || got != "127.0.0.1" {
		t.Fatalf("expected trimmed non-empty string, got %q ok=%v", got, ok)
	}
	if _, ok := TrimmedText(obj, "b"); ok {
		t.Fatal("expected whitespace-only value to be rejected")
	}
	if _, ok := TrimmedText(obj, "c"); ok {
		t.Fatal("expected non-string value to be rejected")
	}
	if _, ok := TrimmedText(obj, "missing"); ok {
		t.Fatal("expected missing key to be rejected")
	}
	if got, ok := Text(obj, "d.e"); !ok || got != "dotted" {
		t.Fatalf("expected keys with dots to be read literally, got %q ok=%v", got, ok)
	}
}

func TestInt(t *testing.T) {
	cases := []struct {
		name string
		json string
		want int
		ok   bool
	}{
		{name: "number", json: `{"port":8818}`, want: 8818, ok: true},
		{name: "text", json: `{"port":"8818"}`, want: 8818, ok: true},
		{name: "fraction", json: `{"port":1.5}`, ok: false},
		{name: "text invalid", json: `{"port":"8818/tcp"}`, ok: false},
		{name: "text spaced", json: `{"port":" 16 "}`, ok: false},
		{name: "bool", json: `{"port":true}`, ok: false},
		{name: "missing", json: `{}`, ok: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Int(gjson.Parse(tc.json), "port")
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Int(%s) = %d ok=%v, want %d ok=%v", tc.json, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestTexts(t *testing.T) {
	obj := gjson.Parse(`{"filterFiles":["init",1,"main"],"name":"x"}`)

	got := Texts(obj, "filterFiles")
	if len(got) != 2 || got[0] != "init" || got[1] != "main" {
		t.Fatalf("unexpected string slice: %#v", got)
	}
	if Texts(obj, "missing") != nil || Texts(obj, "name") != nil {
		t.Fatal("expected nil for missing or non-array key")
	}
}

func TestObject(t *testing.T) {
	m, ok := Object(gjson.Parse(`{"port":7003,"name":"lua"}`))
	if !ok || m["name"] != "lua" || m["port"] != float64(7003) {
		t.Fatalf("unexpected object: %#v ok=%v", m, ok)
	}
	if _, ok := Object(gjson.Parse(`[1,2]`)); ok {
		t.Fatal("expected arrays to be rejected")
	}
	if _, ok := Object(gjson.Result{}); ok {
		t.Fatal("expected a missing value to be rejected")
	}
}
