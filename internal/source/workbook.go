package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"sheetmail/internal/dispatch"
)

// Columns names the header cells that carry each recipient field.
type Columns struct {
	Address     string `json:"address"`
	SourceURL   string `json:"source_url"`
	Credential  string `json:"credential"`
	DisplayName string `json:"display_name"`
}

func DefaultColumns() Columns {
	return Columns{Address: "Emails", SourceURL: "Websites Url", Credential: "Password", DisplayName: "Name"}
}

type Options struct {
	Columns Columns
	// SenderDomain builds the group sender address as "<group>@<domain>".
	SenderDomain string
}

func (o Options) normalized() Options {
	def := DefaultColumns()
	if o.Columns.Address == "" {
		o.Columns.Address = def.Address
	}
	if o.Columns.SourceURL == "" {
		o.Columns.SourceURL = def.SourceURL
	}
	if o.Columns.Credential == "" {
		o.Columns.Credential = def.Credential
	}
	if o.Columns.DisplayName == "" {
		o.Columns.DisplayName = def.DisplayName
	}
	if o.SenderDomain == "" {
		o.SenderDomain = "gmail.com"
	}
	return o
}

var ErrNoAddressColumn = errors.New("address column not found")

// Workbook is the set of groups read from one input file, in sheet order.
type Workbook struct {
	Path   string
	Groups []dispatch.Group
}

func (w *Workbook) Group(id string) (dispatch.Group, bool) {
	if w == nil {
		return dispatch.Group{}, false
	}
	for _, g := range w.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return dispatch.Group{}, false
}

func (w *Workbook) IDs() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.Groups))
	for _, g := range w.Groups {
		out = append(out, g.ID)
	}
	return out
}

// LoadWorkbook reads an .xlsx workbook (one group per sheet) or a .csv file
// (a single group named after the file).
func LoadWorkbook(path string, opts Options) (*Workbook, error) {
	opts = opts.normalized()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		g, err := ReadCSV(f, id, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &Workbook{Path: path, Groups: []dispatch.Group{g}}, nil
	case ".xlsx", ".xlsm":
		return loadXLSX(path, opts)
	default:
		return nil, fmt.Errorf("%s: unsupported workbook type (want .xlsx or .csv)", path)
	}
}

func loadXLSX(path string, opts Options) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	wb := &Workbook{Path: path}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%s: sheet %q: %w", path, sheet, err)
		}
		g, err := groupFromRows(sheet, rows, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: sheet %q: %w", path, sheet, err)
		}
		wb.Groups = append(wb.Groups, g)
	}
	return wb, nil
}

// ReadCSV reads one group from CSV data with a header row.
func ReadCSV(r io.Reader, id string, opts Options) (dispatch.Group, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return dispatch.Group{}, err
	}
	return groupFromRows(id, rows, opts.normalized())
}

// groupFromRows maps a header row plus data rows onto a group. Credential and
// display name come from the first data row; blank rows are skipped.
func groupFromRows(id string, rows [][]string, opts Options) (dispatch.Group, error) {
	g := dispatch.Group{ID: id, FromAddress: id + "@" + opts.SenderDomain}
	if len(rows) == 0 {
		return g, nil
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		key := normalizeHeader(h)
		if _, dup := header[key]; !dup && key != "" {
			header[key] = i
		}
	}
	col := func(name string) int {
		if i, ok := header[normalizeHeader(name)]; ok {
			return i
		}
		return -1
	}
	addrCol := col(opts.Columns.Address)
	if addrCol < 0 {
		return g, fmt.Errorf("%w: %q", ErrNoAddressColumn, opts.Columns.Address)
	}
	urlCol := col(opts.Columns.SourceURL)
	credCol := col(opts.Columns.Credential)
	nameCol := col(opts.Columns.DisplayName)
	known := map[int]bool{addrCol: true, urlCol: true, credCol: true, nameCol: true}

	first := true
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		if first {
			g.Credential = cell(row, credCol)
			g.DisplayName = cleanName(cell(row, nameCol))
			first = false
		}
		rec := dispatch.Recipient{
			Address:   cell(row, addrCol),
			SourceURL: cell(row, urlCol),
		}
		for i, h := range rows[0] {
			if known[i] || strings.TrimSpace(h) == "" {
				continue
			}
			if v := cell(row, i); v != "" {
				if rec.Extra == nil {
					rec.Extra = map[string]string{}
				}
				rec.Extra[strings.TrimSpace(h)] = v
			}
		}
		g.Recipients = append(g.Recipients, rec)
	}
	return g, nil
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cleanName treats spreadsheet "no value" markers as an unset display name.
func cleanName(s string) string {
	switch strings.ToLower(s) {
	case "nan", "null", "none", "#n/a":
		return ""
	}
	return s
}
