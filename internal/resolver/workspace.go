// Package resolver maps the chunk paths reported by the debuggee to files
// on disk.
package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stefan/lua-dap/internal/syncx"
)

const maxParallelWalks = 8

// Workspace indexes source files under a root directory. A file can be found
// by its full path, its file name, its path relative to the root, or that
// relative path prefixed with the root's own directory name.
type Workspace struct {
	root       string
	rootName   string
	extensions []string

	mu     syncx.RWMutex
	files  map[string]struct{}
	keys   map[string][]string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkspace creates an empty index for root. Extensions default to ".lua".
func NewWorkspace(root string, extensions []string) *Workspace {
	if len(extensions) == 0 {
		extensions = []string{".lua"}
	}
	w := &Workspace{
		extensions: extensions,
		files:      map[string]struct{}{},
		keys:       map[string][]string{},
	}
	if root != "" {
		w.root = FormatPath(root)
		if !strings.HasSuffix(w.root, "/") {
			w.root += "/"
		}
		w.rootName = filepath.Base(strings.TrimSuffix(w.root, "/"))
	}
	return w
}

// FormatPath converts backslashes to forward slashes.
func FormatPath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// Root returns the normalized root with a trailing slash.
func (w *Workspace) Root() string {
	return w.root
}

// Index walks the root and replaces the index contents. Top-level
// directories are walked in parallel.
func (w *Workspace) Index(ctx context.Context) error {
	if w.root == "" {
		return errors.New("workspace root is not set")
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}

	var (
		found   []string
		foundMu syncx.Mutex
	)
	collect := func(files []string) {
		foundMu.Lock()
		found = append(found, files...)
		foundMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWalks)
	var topFiles []string
	for _, entry := range entries {
		full := filepath.Join(w.root, entry.Name())
		if !entry.IsDir() {
			if w.matches(full) {
				topFiles = append(topFiles, full)
			}
			continue
		}
		g.Go(func() error {
			files, err := w.walk(gctx, full)
			if err != nil {
				return err
			}
			collect(files)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	collect(topFiles)
	sort.Strings(found)

	w.mu.Lock()
	w.files = map[string]struct{}{}
	w.keys = map[string][]string{}
	for _, file := range found {
		w.addLocked(file)
	}
	w.mu.Unlock()

	log.Debug().Str("root", w.root).Int("files", len(found)).Msg("workspace indexed")
	return nil
}

func (w *Workspace) walk(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && w.matches(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Start indexes the root and then watches it for created, removed and
// renamed files until Stop is called or ctx is done. Watches are installed
// before Start returns.
func (w *Workspace) Start(ctx context.Context) error {
	if err := w.Index(ctx); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.addWatchRecursive(watcher, w.root)

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		defer watcher.Close()
		w.eventLoop(watchCtx, watcher)
	}()
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Workspace) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Workspace) eventLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("workspace watcher error")
		}
	}
}

func (w *Workspace) addWatchRecursive(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to add watch")
		}
		return nil
	})
}

func (w *Workspace) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.addWatchRecursive(watcher, event.Name)
			files, _ := w.walk(context.Background(), event.Name)
			for _, file := range files {
				w.Add(file)
			}
			return
		}
		if w.matches(event.Name) {
			w.Add(event.Name)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.matches(event.Name) {
			w.Remove(event.Name)
			return
		}
		w.RemoveTree(event.Name)
	}
}

// Add indexes one file.
func (w *Workspace) Add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(path)
}

// Remove drops one file from the index.
func (w *Workspace) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(FormatPath(path))
}

// RemoveTree drops path and every indexed file below it.
func (w *Workspace) RemoveTree(path string) {
	path = FormatPath(path)
	prefix := strings.TrimSuffix(path, "/") + "/"

	w.mu.Lock()
	defer w.mu.Unlock()
	for file := range w.files {
		if file == path || strings.HasPrefix(file, prefix) {
			w.removeLocked(file)
		}
	}
}

// FullPath resolves a chunk path. When several files share a key the first
// one indexed wins.
func (w *Workspace) FullPath(path string) (string, bool) {
	path = FormatPath(path)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.files[path]; ok {
		return path, true
	}
	if list := w.keys[path]; len(list) > 0 {
		return list[0], true
	}
	return "", false
}

// Len returns the number of indexed files.
func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.files)
}

func (w *Workspace) matches(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range w.extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

func (w *Workspace) lookupKeys(full string) []string {
	keys := []string{full[strings.LastIndex(full, "/")+1:]}
	if w.root != "" && strings.HasPrefix(full, w.root) {
		relative := strings.TrimPrefix(full, w.root)
		keys = append(keys, relative, w.rootName+"/"+relative)
	}
	return keys
}

func (w *Workspace) addLocked(path string) {
	full := FormatPath(path)
	if _, ok := w.files[full]; ok {
		return
	}
	w.files[full] = struct{}{}
	for _, key := range w.lookupKeys(full) {
		w.keys[key] = append(w.keys[key], full)
	}
}

func (w *Workspace) removeLocked(full string) {
	if _, ok := w.files[full]; !ok {
		return
	}
	delete(w.files, full)
	for _, key := range w.lookupKeys(full) {
		list := w.keys[key]
		for i, candidate := range list {
			if candidate == full {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(w.keys, key)
		} else {
			w.keys[key] = list
		}
	}
}
