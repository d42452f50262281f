package source

import (
	"errors"
	"os"
	"sync"
	"time"

	"sheetmail/internal/dispatch"
	"sheetmail/pkg/logx"
)

var ErrNoWorkbook = errors.New("no workbook configured")

// Catalog serves groups from a workbook file and re-reads it when the file changes.
type Catalog struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	opts    Options
	wb      *Workbook
	modTime time.Time
	size    int64
}

func NewCatalog(path string, opts Options, log logx.Logger) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Catalog{path: path, opts: opts, log: log}
}

// Apply points the catalog at a new file or column mapping; the next read reloads.
func (c *Catalog) Apply(path string, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path == c.path && opts == c.opts {
		return
	}
	c.path, c.opts = path, opts
	c.wb = nil
	c.modTime = time.Time{}
}

func (c *Catalog) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Workbook returns the current workbook, reloading it when the file changed on disk.
func (c *Catalog) Workbook() (*Workbook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return nil, ErrNoWorkbook
	}
	fi, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}
	if c.wb != nil && fi.ModTime().Equal(c.modTime) && fi.Size() == c.size {
		return c.wb, nil
	}
	wb, err := LoadWorkbook(c.path, c.opts)
	if err != nil {
		return nil, err
	}
	c.wb, c.modTime, c.size = wb, fi.ModTime(), fi.Size()
	recipients := 0
	for _, g := range wb.Groups {
		recipients += len(g.Recipients)
	}
	c.log.Info("workbook loaded", logx.String("path", c.path), logx.Int("groups", len(wb.Groups)), logx.Int("recipients", recipients))
	return wb, nil
}

func (c *Catalog) Group(id string) (dispatch.Group, bool, error) {
	wb, err := c.Workbook()
	if err != nil {
		return dispatch.Group{}, false, err
	}
	g, ok := wb.Group(id)
	return g, ok, nil
}
