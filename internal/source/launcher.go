package source

import (
	"context"
	"errors"
	"fmt"

	"sheetmail/internal/dispatch"
)

var ErrGroupNotFound = errors.New("group not found")

// GroupInfo summarizes one workbook group for listings.
type GroupInfo struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	FromAddress string         `json:"from_address"`
	Recipients  int            `json:"recipients"`
	Templates   []string       `json:"templates"`
	State       dispatch.State `json:"state"`
}

// Launcher starts runs by group id and template name.
type Launcher struct {
	cat *Catalog
	lib *Library
	reg *dispatch.Registry
}

func NewLauncher(cat *Catalog, lib *Library, reg *dispatch.Registry) *Launcher {
	return &Launcher{cat: cat, lib: lib, reg: reg}
}

func (l *Launcher) Registry() *dispatch.Registry { return l.reg }

func (l *Launcher) Library() *Library { return l.lib }

// Resolve loads the current group snapshot and the named template.
// An empty template name resolves to an empty template so the registry can reject it.
func (l *Launcher) Resolve(groupID, template string) (dispatch.Group, dispatch.Template, error) {
	g, ok, err := l.cat.Group(groupID)
	if err != nil {
		return dispatch.Group{}, dispatch.Template{}, err
	}
	if !ok {
		return dispatch.Group{}, dispatch.Template{}, fmt.Errorf("%w: %q", ErrGroupNotFound, groupID)
	}
	if template == "" {
		return g, dispatch.Template{}, nil
	}
	tpl, ok := l.lib.Get(groupID, template)
	if !ok {
		return dispatch.Group{}, dispatch.Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, template)
	}
	return g, tpl, nil
}

func (l *Launcher) Launch(ctx context.Context, groupID, template string) (*dispatch.Handle, error) {
	g, tpl, err := l.Resolve(groupID, template)
	if err != nil {
		return nil, err
	}
	return l.reg.Start(ctx, g, tpl)
}

// Groups lists every workbook group in sheet order with its current dispatch state.
func (l *Launcher) Groups() ([]GroupInfo, error) {
	wb, err := l.cat.Workbook()
	if err != nil {
		return nil, err
	}
	out := make([]GroupInfo, 0, len(wb.Groups))
	for _, id := range wb.IDs() {
		g, _ := wb.Group(id)
		out = append(out, GroupInfo{
			ID:          g.ID,
			DisplayName: g.DisplayName,
			FromAddress: g.FromAddress,
			Recipients:  len(g.Recipients),
			Templates:   l.lib.List(g.ID),
			State:       l.reg.Status(g.ID).State,
		})
	}
	return out, nil
}
