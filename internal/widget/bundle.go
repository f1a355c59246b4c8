// Package widget locates the built notes widget bundle on disk and renders the
// HTML document served as the widget resource.
package widget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

const (
	// ScriptFile is the required widget entry point.
	ScriptFile = "notes.js"
	// StyleFile is the optional stylesheet emitted next to the script.
	StyleFile = "notes.css"
)

// BundleNotFoundError reports that no candidate directory held ScriptFile.
type BundleNotFoundError struct {
	Searched []string
}

func (e *BundleNotFoundError) Error() string {
	var b strings.Builder
	b.WriteString(ScriptFile)
	b.WriteString(" not found. Did you build the widget?\nRun: cd web && npm run build\nSearched:")
	for _, p := range e.Searched {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// Assets holds one loaded copy of the bundle.
type Assets struct {
	Dir string
	JS  string
	CSS string
}

// HTML renders the widget document: a root mount point, the inline stylesheet
// when present and the module script.
func (a Assets) HTML() string {
	parts := []string{`<div id="root"></div>`}
	if a.CSS != "" {
		parts = append(parts, "<style>"+a.CSS+"</style>")
	}
	parts = append(parts, `<script type="module">`+a.JS+"</script>")
	return strings.Join(parts, "\n")
}

// CandidateDirs returns the directories searched for the bundle. An explicit
// directory is the only candidate when set.
func CandidateDirs(explicit string) []string {
	if dir := strings.TrimSpace(explicit); dir != "" {
		return []string{filepath.Clean(dir)}
	}
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		here := filepath.Dir(exe)
		dirs = append(dirs,
			filepath.Join(here, "..", "web", "dist"),
			filepath.Join(here, "..", "..", "web", "dist"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs,
			filepath.Join(cwd, "..", "web", "dist"),
			filepath.Join(cwd, "web", "dist"),
		)
	}
	return dedupe(dirs)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Locate returns the first directory in dirs containing ScriptFile.
func Locate(dirs []string) (string, error) {
	searched := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		candidate := filepath.Join(dir, ScriptFile)
		searched = append(searched, candidate)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return dir, nil
		}
	}
	return "", &BundleNotFoundError{Searched: searched}
}

// Load reads the bundle files from dir.
func Load(dir string) (Assets, error) {
	js, err := os.ReadFile(filepath.Join(dir, ScriptFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Assets{}, &BundleNotFoundError{Searched: []string{filepath.Join(dir, ScriptFile)}}
		}
		return Assets{}, fmt.Errorf("widget: read %s: %w", ScriptFile, err)
	}
	css, err := os.ReadFile(filepath.Join(dir, StyleFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Assets{}, fmt.Errorf("widget: read %s: %w", StyleFile, err)
	}
	return Assets{Dir: dir, JS: string(js), CSS: string(css)}, nil
}

// Config selects where the bundle is loaded from.
type Config struct {
	// Dir pins the bundle directory. Empty means search CandidateDirs.
	Dir    string
	Logger pslog.Logger
}

// Bundle is the in-memory widget bundle. It is safe for concurrent use and can
// be reloaded while requests read it.
type Bundle struct {
	mu     sync.RWMutex
	assets Assets
	logger pslog.Logger
}

// NewBundle locates and loads the bundle. A missing script yields a
// *BundleNotFoundError listing every path searched.
func NewBundle(cfg Config) (*Bundle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	dir, err := Locate(CandidateDirs(cfg.Dir))
	if err != nil {
		return nil, err
	}
	assets, err := Load(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("widget.bundle.loaded", "dir", dir, "js_bytes", len(assets.JS), "css_bytes", len(assets.CSS))
	return &Bundle{assets: assets, logger: logger}, nil
}

// Static wraps preloaded assets, mainly for tests and embedding.
func Static(assets Assets) *Bundle {
	return &Bundle{assets: assets, logger: pslog.NoopLogger()}
}

// Assets returns the current assets.
func (b *Bundle) Assets() Assets {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.assets
}

// HTML renders the current widget document.
func (b *Bundle) HTML() string {
	return b.Assets().HTML()
}

// Reload rereads the bundle from its directory. The previous assets stay in
// place when the read fails.
func (b *Bundle) Reload() error {
	dir := b.Assets().Dir
	if dir == "" {
		return nil
	}
	assets, err := Load(dir)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.assets = assets
	b.mu.Unlock()
	return nil
}

// Watch reloads the bundle whenever the script or stylesheet changes. It
// blocks until ctx is cancelled.
func (b *Bundle) Watch(ctx context.Context) error {
	dir := b.Assets().Dir
	if dir == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("widget: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("widget: watch %q: %w", dir, err)
	}
	b.logger.Info("widget.bundle.watch.start", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("widget.bundle.watch.stop", "dir", dir)
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if err := b.Reload(); err != nil {
				b.logger.Warn("widget.bundle.reload.error", "file", ev.Name, "error", err)
				continue
			}
			b.logger.Info("widget.bundle.reloaded", "file", ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("widget.bundle.watch.error", "error", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	switch filepath.Base(ev.Name) {
	case ScriptFile, StyleFile:
	default:
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
