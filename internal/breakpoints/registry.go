// Package breakpoints keeps the breakpoint table sent to the debuggee.
//
// Breakpoints are grouped into buckets by short file name (the base name
// without extension) because the debuggee matches on the chunk name it sees
// at runtime, which rarely carries the full path.
package breakpoints

import (
	"path"
	"sort"
	"strings"
)

// Record is one breakpoint as the debuggee expects it.
type Record struct {
	FullPath     string `json:"fullPath"`
	Line         int    `json:"line"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// Registry maps short file names to breakpoint records.
// It is not safe for concurrent use.
type Registry struct {
	buckets map[string][]Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{buckets: map[string][]Record{}}
}

// NormalizePath converts backslashes to slashes and cleans the result.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// ShortName returns the text after the last slash up to the last dot.
// A path without an extension keeps its whole base name.
func ShortName(fullPath string) string {
	base := fullPath[strings.LastIndex(fullPath, "/")+1:]
	if dot := strings.LastIndex(base, "."); dot >= 0 {
		return base[:dot]
	}
	return base
}

// Set replaces the records of fullPath inside its bucket and returns the
// bucket name and a copy of the whole bucket. Records of other files that
// share the short name are kept.
func (r *Registry) Set(fullPath string, records []Record) (string, []Record) {
	short := ShortName(fullPath)

	bucket := r.buckets[short][:0:0]
	for _, existing := range r.buckets[short] {
		if existing.FullPath != fullPath {
			bucket = append(bucket, existing)
		}
	}
	bucket = append(bucket, records...)
	r.buckets[short] = bucket

	return short, r.Bucket(short)
}

// Bucket returns a copy of the records stored under short.
func (r *Registry) Bucket(short string) []Record {
	bucket := r.buckets[short]
	out := make([]Record, len(bucket))
	copy(out, bucket)
	return out
}

// All returns a copy of every bucket.
func (r *Registry) All() map[string][]Record {
	out := make(map[string][]Record, len(r.buckets))
	for short := range r.buckets {
		out[short] = r.Bucket(short)
	}
	return out
}

// Files returns the distinct full paths with at least one breakpoint, sorted.
func (r *Registry) Files() []string {
	seen := map[string]struct{}{}
	for _, bucket := range r.buckets {
		for _, record := range bucket {
			seen[record.FullPath] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for file := range seen {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}
