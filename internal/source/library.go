package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sheetmail/internal/dispatch"
)

var ErrTemplateNotFound = errors.New("template not found")

// Library holds named templates per group plus shared templates visible to every group.
// A group template shadows a shared one with the same name.
type Library struct {
	mu      sync.RWMutex
	shared  map[string]dispatch.Template
	byGroup map[string]map[string]dispatch.Template
}

func NewLibrary() *Library {
	return &Library{shared: map[string]dispatch.Template{}, byGroup: map[string]map[string]dispatch.Template{}}
}

// Add stores tpl for group ("" means shared), replacing a template with the same name.
// Malformed templates are accepted here and rejected when a run is started.
func (l *Library) Add(group string, tpl dispatch.Template) error {
	tpl.Name = strings.TrimSpace(tpl.Name)
	if tpl.Name == "" {
		return errors.New("template name is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if group == "" {
		l.shared[tpl.Name] = tpl
		return nil
	}
	m := l.byGroup[group]
	if m == nil {
		m = map[string]dispatch.Template{}
		l.byGroup[group] = m
	}
	m[tpl.Name] = tpl
	return nil
}

// Import reads a text file into the library under its base name.
func (l *Library) Import(group, path string) (dispatch.Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return dispatch.Template{}, err
	}
	tpl := dispatch.Template{Name: filepath.Base(path), RawText: string(b)}
	if err := l.Add(group, tpl); err != nil {
		return dispatch.Template{}, err
	}
	return tpl, nil
}

func (l *Library) Remove(group, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.shared
	if group != "" {
		m = l.byGroup[group]
	}
	if _, ok := m[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	delete(m, name)
	return nil
}

func (l *Library) Get(group, name string) (dispatch.Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if tpl, ok := l.byGroup[group][name]; ok {
		return tpl, true
	}
	tpl, ok := l.shared[name]
	return tpl, ok
}

// List returns the template names visible to group, sorted.
func (l *Library) List(group string) []string {
	l.mu.RLock()
	seen := map[string]struct{}{}
	for n := range l.shared {
		seen[n] = struct{}{}
	}
	for n := range l.byGroup[group] {
		seen[n] = struct{}{}
	}
	l.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadDir imports <dir>/*.txt as shared templates and <dir>/<group>/*.txt per group.
func (l *Library) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			if !isTemplateFile(e.Name()) {
				continue
			}
			if _, err := l.Import("", p); err != nil {
				return n, err
			}
			n++
			continue
		}
		sub, err := os.ReadDir(p)
		if err != nil {
			return n, err
		}
		for _, se := range sub {
			if se.IsDir() || !isTemplateFile(se.Name()) {
				continue
			}
			if _, err := l.Import(e.Name(), filepath.Join(p, se.Name())); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func isTemplateFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt") && !strings.HasPrefix(name, ".")
}
