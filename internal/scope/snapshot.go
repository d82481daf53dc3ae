// Package scope caches the variables of one stack frame.
//
// A Snapshot hands out integer handles for remote table keys, remembers the
// dotted path (joined with "-") under which each table or leaf was first
// seen, and stores the records already fetched for each table. Snapshots are
// discarded wholesale whenever the debuggee resumes.
package scope

import (
	"regexp"
	"strings"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
)

// FirstHandle is the first handle given out by a snapshot. Zero marks a leaf.
const FirstHandle = 1000

// PathSeparator joins the segments of a variable path.
const PathSeparator = "-"

var extraKeySuffix = regexp.MustCompile(`\s\[.*?\]`)

// Root is one top-level variable category reported by getScopes.
type Root struct {
	Key     string `mapstructure:"key"`
	Display string `mapstructure:"display"`
	Visible bool   `mapstructure:"visible"`
}

// DefaultRoots lists the categories in lookup order.
var DefaultRoots = []Root{
	{Key: "locals", Display: "Local", Visible: true},
	{Key: "watch", Display: "Watch"},
	{Key: "ups", Display: "Ups", Visible: true},
	{Key: "global", Display: "Global", Visible: true},
	{Key: "invalid", Display: "Invalid"},
}

// Record is one variable row.
type Record struct {
	Name   string
	Type   string
	Value  string
	Handle int
}

// Result is either a single record or the records of a whole table.
type Result struct {
	TableKey string
	Records  []Record
	single   bool
}

// IsSingle reports whether the result carries exactly one leaf record.
func (r Result) IsSingle() bool {
	return r.single
}

// Record returns the single record. It is the zero Record for table results.
func (r Result) Record() Record {
	if !r.single || len(r.Records) == 0 {
		return Record{}
	}
	return r.Records[0]
}

// ScopeRef is a visible root category with its handle.
type ScopeRef struct {
	Name   string
	Handle int
}

type pathEntry struct {
	tableKey string
	leafKey  string
	leaf     bool
}

// Snapshot is the variable cache of one frame. It is not safe for concurrent use.
type Snapshot struct {
	FrameID int

	roots      []Root
	rootKeys   map[string]struct{}
	nextHandle int
	handles    map[string]int
	tableKeys  map[int]string
	paths      map[string]pathEntry
	pathOrder  []string
	vars       map[string][]Record
	loaded     map[string]bool
}

// New creates a snapshot seeded with one path per root category present in
// tableKeys. A nil roots slice selects DefaultRoots.
func New(frameID int, roots []Root, tableKeys map[string]string) *Snapshot {
	if len(roots) == 0 {
		roots = DefaultRoots
	}
	s := &Snapshot{
		FrameID:    frameID,
		rootKeys:   map[string]struct{}{},
		nextHandle: FirstHandle,
		handles:    map[string]int{},
		tableKeys:  map[int]string{},
		paths:      map[string]pathEntry{},
		vars:       map[string][]Record{},
		loaded:     map[string]bool{},
	}
	for _, root := range roots {
		tableKey, ok := tableKeys[root.Key]
		if !ok {
			continue
		}
		s.roots = append(s.roots, root)
		s.rootKeys[root.Key] = struct{}{}
		s.Handle(tableKey)
		s.addPath(root.Key, pathEntry{tableKey: tableKey})
	}
	return s
}

// Handle returns the handle for tableKey, allocating one on first use.
func (s *Snapshot) Handle(tableKey string) int {
	if handle, ok := s.handles[tableKey]; ok {
		return handle
	}
	handle := s.nextHandle
	s.nextHandle++
	s.handles[tableKey] = handle
	s.tableKeys[handle] = tableKey
	return handle
}

// HandleOf returns the handle already allocated for tableKey.
func (s *Snapshot) HandleOf(tableKey string) (int, bool) {
	handle, ok := s.handles[tableKey]
	return handle, ok
}

// TableKey returns the table key behind handle.
func (s *Snapshot) TableKey(handle int) (string, bool) {
	tableKey, ok := s.tableKeys[handle]
	return tableKey, ok
}

// PathByHandle returns the first path registered for the handle's table.
func (s *Snapshot) PathByHandle(handle int) (string, bool) {
	tableKey, ok := s.tableKeys[handle]
	if !ok {
		return "", false
	}
	for _, p := range s.pathOrder {
		entry := s.paths[p]
		if !entry.leaf && entry.tableKey == tableKey {
			return p, true
		}
	}
	return "", false
}

// TableVars returns the cached records of the handle's table.
func (s *Snapshot) TableVars(handle int) ([]Record, bool) {
	tableKey, ok := s.tableKeys[handle]
	if !ok {
		return nil, false
	}
	records, ok := s.vars[tableKey]
	return records, ok
}

// FullyLoaded reports whether every child of tableKey has been fetched.
func (s *Snapshot) FullyLoaded(tableKey string) bool {
	return s.loaded[tableKey]
}

// Scopes returns the visible root categories in configured order.
func (s *Snapshot) Scopes() []ScopeRef {
	var out []ScopeRef
	for _, root := range s.roots {
		if !root.Visible {
			continue
		}
		entry := s.paths[root.Key]
		out = append(out, ScopeRef{Name: root.Display, Handle: s.handles[entry.tableKey]})
	}
	return out
}

// Lookup resolves a cached path. A path that is not itself a root name is
// tried verbatim first; then each root category is tried as a prefix.
func (s *Snapshot) Lookup(p string) (Result, bool) {
	entry, found := pathEntry{}, false
	if _, isRoot := s.rootKeys[p]; !isRoot {
		entry, found = s.paths[p]
	}
	if !found {
		for _, root := range s.roots {
			if entry, found = s.paths[root.Key+PathSeparator+p]; found {
				break
			}
		}
	}
	if !found {
		return Result{}, false
	}

	records, ok := s.vars[entry.tableKey]
	if !ok {
		return Result{}, false
	}
	if !entry.leaf {
		return Result{TableKey: entry.tableKey, Records: records}, true
	}
	for _, record := range records {
		if record.Name == entry.leafKey {
			return Result{TableKey: entry.tableKey, Records: []Record{record}, single: true}, true
		}
	}
	return Result{}, false
}

// Load stores a getVariable or watchVariable reply and returns what it added.
//
// A table reply replaces the table's records with its children in key order
// and marks the table fully loaded. A leaf reply appends one record, named
// after the last path segment, to the owning table without marking it loaded;
// a record of the same name is replaced.
func (s *Snapshot) Load(reply protocol.VariableReply) Result {
	tableKey := reply.TableKey
	realPath := reply.RealPath
	s.Handle(tableKey)

	if reply.Vars.IsTable() {
		s.addPath(realPath, pathEntry{tableKey: tableKey})
		records := make([]Record, 0, len(reply.Vars.Fields))
		for _, key := range reply.Vars.SortedKeys() {
			child := reply.Vars.Fields[key]
			childPath := realPath + PathSeparator + SanitizeKey(key)
			if child.IsTable() {
				records = append(records, Record{
					Name:   key,
					Value:  child.Var,
					Handle: s.Handle(child.Var),
				})
				s.addPath(childPath, pathEntry{tableKey: child.Var})
				continue
			}
			records = append(records, Record{
				Name:  key,
				Type:  child.Type,
				Value: displayValue(child),
			})
			s.addPath(childPath, pathEntry{tableKey: tableKey, leafKey: key, leaf: true})
		}
		s.vars[tableKey] = records
		s.loaded[tableKey] = true
		return Result{TableKey: tableKey, Records: records}
	}

	segments := strings.Split(realPath, PathSeparator)
	name := segments[len(segments)-1]
	record := Record{
		Name:  name,
		Type:  reply.Vars.Type,
		Value: displayValue(reply.Vars),
	}
	s.putLeaf(tableKey, record)
	s.addPath(realPath, pathEntry{tableKey: tableKey, leafKey: name, leaf: true})
	return Result{TableKey: tableKey, Records: []Record{record}, single: true}
}

// putLeaf stores record under tableKey, replacing a record of the same name.
func (s *Snapshot) putLeaf(tableKey string, record Record) {
	rows := s.vars[tableKey]
	for i := range rows {
		if rows[i].Name == record.Name {
			rows[i] = record
			return
		}
	}
	s.vars[tableKey] = append(rows, record)
}

// SanitizeKey strips the first " [...]" annotation from a display key.
func SanitizeKey(key string) string {
	loc := extraKeySuffix.FindStringIndex(key)
	if loc == nil {
		return key
	}
	return key[:loc[0]] + key[loc[1]:]
}

func (s *Snapshot) addPath(p string, entry pathEntry) {
	if _, exists := s.paths[p]; exists {
		return
	}
	s.paths[p] = entry
	s.pathOrder = append(s.pathOrder, p)
}

func displayValue(v protocol.Value) string {
	if v.Type == "string" {
		return `"` + v.Var + `"`
	}
	return v.Var
}
