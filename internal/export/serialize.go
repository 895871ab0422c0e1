// Package export serializes report and entity rows into downloadable files.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
	FormatPDF   = "pdf"
	FormatJSON  = "json"
)

var Formats = []string{FormatCSV, FormatExcel, FormatPDF, FormatJSON}

func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeJSON = "application/json"
)

// Options control one serialize call.
type Options struct {
	Columns        []string
	IncludeHeaders bool
	BaseName       string // file name without extension
	Title          string
	Subtitle       string
	Summary        any       // optional; rendered above the table and included in JSON
	Charts         any       // optional; JSON only
	Sections       []Section // optional template sections for document formats
	Layout         Layout
}

// Output is a serialized file.
type Output struct {
	Data        []byte
	FileName    string
	ContentType string
	Format      string
	SizeBytes   int64
	RecordCount int
}

// Recorder receives one observation per serialize call.
type Recorder interface {
	ObserveSerialize(format string, records int, sizeBytes int64)
}

// Serializer turns rows into CSV, Excel-compatible, PDF or JSON output.
type Serializer struct {
	pdf      Renderer
	recorder Recorder
	now      func() time.Time
}

// NewSerializer uses the HTML renderer for pdf when pdf is nil.
func NewSerializer(pdf Renderer, recorder Recorder) *Serializer {
	if pdf == nil {
		pdf = HTMLRenderer{}
	}
	return &Serializer{pdf: pdf, recorder: recorder, now: time.Now}
}

func (s *Serializer) Serialize(rows []any, format string, opts Options) (*Output, error) {
	if !ValidFormat(format) {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	records, err := FlattenAll(rows)
	if err != nil {
		return nil, err
	}
	columns := opts.Columns
	if len(columns) == 0 && len(records) > 0 {
		columns = records[0].Keys()
	}

	out := &Output{Format: format, RecordCount: len(records)}
	base := s.baseName(opts.BaseName)

	switch format {
	case FormatCSV:
		out.Data = EncodeCSV(records, columns, opts.IncludeHeaders)
		out.FileName = base + ".csv"
		out.ContentType = contentTypeCSV
	case FormatExcel:
		// Spreadsheet apps open CSV content under an .xlsx name.
		out.Data = EncodeCSV(records, columns, opts.IncludeHeaders)
		out.FileName = base + ".xlsx"
		out.ContentType = contentTypeXLSX
	case FormatJSON:
		out.Data, err = encodeJSON(records, opts)
		if err != nil {
			return nil, err
		}
		out.FileName = base + ".json"
		out.ContentType = contentTypeJSON
	case FormatPDF:
		doc, err := s.document(records, columns, opts)
		if err != nil {
			return nil, err
		}
		out.Data, err = s.pdf.Render(doc)
		if err != nil {
			return nil, fmt.Errorf("render document: %w", err)
		}
		out.FileName = base + "." + s.pdf.Extension()
		out.ContentType = s.pdf.ContentType()
	}

	out.SizeBytes = int64(len(out.Data))
	if s.recorder != nil {
		s.recorder.ObserveSerialize(format, out.RecordCount, out.SizeBytes)
	}
	return out, nil
}

func (s *Serializer) document(records []Record, columns []string, opts Options) (Document, error) {
	doc := Document{
		Title:       opts.Title,
		Subtitle:    opts.Subtitle,
		Sections:    opts.Sections,
		Columns:     columns,
		Layout:      opts.Layout,
		GeneratedAt: s.now().UTC(),
	}
	if doc.Title == "" {
		doc.Title = "Export"
	}
	if opts.Summary != nil {
		sum, err := Flatten(opts.Summary)
		if err != nil {
			return Document{}, err
		}
		doc.Summary = sum
	}
	doc.Rows = make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, col := range columns {
			v, _ := rec.Get(col)
			row[j] = CellText(v)
		}
		doc.Rows[i] = row
	}
	return doc, nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

func (s *Serializer) baseName(name string) string {
	name = strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if name == "" {
		name = "export-" + s.now().UTC().Format("20060102-150405")
	}
	return name
}

// EncodeCSV writes records as CSV. Headers and string cells are always quoted,
// with embedded quotes doubled; numbers and booleans are written bare.
func EncodeCSV(records []Record, columns []string, includeHeaders bool) []byte {
	var buf bytes.Buffer
	if includeHeaders {
		for i, col := range columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(quote(col))
		}
		buf.WriteByte('\n')
	}
	for _, rec := range records {
		for i, col := range columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			v, _ := rec.Get(col)
			buf.WriteString(csvCell(v))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return quote(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return quote(fmt.Sprint(t))
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// CellText is the plain display text of a flattened value.
func CellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

type jsonDocument struct {
	Title   string   `json:"title,omitempty"`
	Summary any      `json:"summary,omitempty"`
	Charts  any      `json:"charts,omitempty"`
	Data    []Record `json:"data"`
}

// encodeJSON pretty-prints the records, wrapped with summary and charts when given.
func encodeJSON(records []Record, opts Options) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var v any = records
	if opts.Summary != nil || opts.Charts != nil {
		v = jsonDocument{Title: opts.Title, Summary: opts.Summary, Charts: opts.Charts, Data: records}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}
