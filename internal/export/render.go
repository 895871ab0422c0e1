package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	RendererHTML   = "html"
	RendererGofpdf = "gofpdf"
)

// Document is the renderer-neutral description of a printable report.
type Document struct {
	Title       string
	Subtitle    string
	Summary     Record
	Sections    []Section
	Columns     []string
	Rows        [][]string
	Layout      Layout
	GeneratedAt time.Time
}

// Section is one template block. Table sections render the document rows;
// summary sections render Items, or the document summary when Items is empty.
type Section struct {
	ID    string
	Type  string
	Title string
	Body  string
	Items Record
}

type Layout struct {
	Orientation     string // portrait | landscape
	PageSize        string
	PrimaryColor    string
	ShowPageNumbers bool
}

// Renderer turns a Document into printable bytes.
type Renderer interface {
	Render(doc Document) ([]byte, error)
	ContentType() string
	Extension() string
}

// NewRenderer returns the gofpdf renderer for "gofpdf" and the HTML renderer otherwise.
func NewRenderer(kind string) Renderer {
	if kind == RendererGofpdf {
		return FPDFRenderer{}
	}
	return HTMLRenderer{}
}

// sections falls back to a summary and data table when no template is attached.
func (d Document) sections() []Section {
	if len(d.Sections) > 0 {
		return d.Sections
	}
	var out []Section
	if len(d.Summary) > 0 {
		out = append(out, Section{ID: "summary", Type: "summary", Title: "Summary"})
	}
	return append(out, Section{ID: "table", Type: "table", Title: "Data"})
}

// HTMLRenderer renders a styled HTML page. It is the default pdf output.
type HTMLRenderer struct{}

func (HTMLRenderer) ContentType() string { return "text/html; charset=utf-8" }
func (HTMLRenderer) Extension() string   { return "html" }

var htmlTemplate = template.Must(template.New("doc").Funcs(template.FuncMap{
	"cell":         CellText,
	"summaryItems": func(Section) Record { return nil },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Doc.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 24px; color: #222; }
h1 { color: {{.Color}}; margin-bottom: 4px; }
.subtitle { color: #666; margin-top: 0; }
table { border-collapse: collapse; width: 100%; margin-top: 12px; font-size: 12px; }
th { background: {{.Color}}; color: #fff; text-align: left; }
th, td { border: 1px solid #ccc; padding: 4px 6px; }
tr:nth-child(even) td { background: #f6f6f6; }
dl { display: grid; grid-template-columns: max-content auto; gap: 4px 16px; }
dt { font-weight: bold; }
.spacer { height: 24px; }
footer { margin-top: 24px; font-size: 10px; color: #888; }
</style>
</head>
<body>
{{- range .Sections}}
<section id="{{.ID}}">
{{- if eq .Type "header"}}
<h1>{{if .Title}}{{.Title}}{{else}}{{$.Doc.Title}}{{end}}</h1>
{{- if $.Doc.Subtitle}}<p class="subtitle">{{$.Doc.Subtitle}}</p>{{end}}
{{- if .Body}}<p>{{.Body}}</p>{{end}}
{{- else if eq .Type "summary"}}
{{- if .Title}}<h2>{{.Title}}</h2>{{end}}
<dl>{{range (summaryItems .)}}<dt>{{.Key}}</dt><dd>{{cell .Value}}</dd>{{end}}</dl>
{{- else if eq .Type "table"}}
{{- if .Title}}<h2>{{.Title}}</h2>{{end}}
<table>
<thead><tr>{{range $.Doc.Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range $.Doc.Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- else if eq .Type "spacer"}}
<div class="spacer"></div>
{{- else}}
{{- if .Title}}<h2>{{.Title}}</h2>{{end}}
{{- if .Body}}<p>{{.Body}}</p>{{end}}
{{- end}}
</section>
{{- end}}
<footer>Generated {{.Doc.GeneratedAt.Format "2006-01-02 15:04 MST"}}</footer>
</body>
</html>
`))

func (HTMLRenderer) Render(doc Document) ([]byte, error) {
	sections := doc.sections()
	if len(doc.Sections) == 0 {
		sections = append([]Section{{ID: "header", Type: "header"}}, sections...)
	}
	color := doc.Layout.PrimaryColor
	if color == "" {
		color = "#1f4e79"
	}

	tmpl, err := htmlTemplate.Clone()
	if err != nil {
		return nil, err
	}
	tmpl.Funcs(template.FuncMap{
		"cell": CellText,
		"summaryItems": func(s Section) Record {
			if len(s.Items) > 0 {
				return s.Items
			}
			return doc.Summary
		},
	})

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Doc      Document
		Sections []Section
		Color    template.CSS
	}{doc, sections, template.CSS(color)})
	if err != nil {
		return nil, fmt.Errorf("execute html template: %w", err)
	}
	return buf.Bytes(), nil
}

// FPDFRenderer draws a real PDF with the core Helvetica font.
type FPDFRenderer struct{}

func (FPDFRenderer) ContentType() string { return "application/pdf" }
func (FPDFRenderer) Extension() string   { return "pdf" }

func (FPDFRenderer) Render(doc Document) ([]byte, error) {
	orientation := "P"
	if doc.Layout.Orientation == "landscape" || len(doc.Columns) > 6 {
		orientation = "L"
	}
	size := doc.Layout.PageSize
	if size == "" {
		size = "A4"
	}

	pdf := gofpdf.New(orientation, "mm", size, "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if doc.Layout.ShowPageNumbers {
		pdf.AliasNbPages("")
		pdf.SetFooterFunc(func() {
			pdf.SetY(-12)
			pdf.SetFont("Helvetica", "I", 8)
			pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		})
	}
	pdf.AddPage()

	heading := func(text string, size float64) {
		if text == "" {
			return
		}
		pdf.SetFont("Helvetica", "B", size)
		pdf.CellFormat(0, 8, tr(text), "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	sections := doc.sections()
	if len(doc.Sections) == 0 {
		heading(doc.Title, 16)
		if doc.Subtitle != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "L", false, 0, "")
			pdf.Ln(4)
		}
	}

	for _, s := range sections {
		switch s.Type {
		case "header":
			title := s.Title
			if title == "" {
				title = doc.Title
			}
			heading(title, 16)
			if doc.Subtitle != "" {
				pdf.SetFont("Helvetica", "", 10)
				pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "L", false, 0, "")
			}
			if s.Body != "" {
				pdf.SetFont("Helvetica", "", 10)
				pdf.MultiCell(0, 5, tr(s.Body), "", "L", false)
			}
			pdf.Ln(4)
		case "summary":
			heading(s.Title, 13)
			items := s.Items
			if len(items) == 0 {
				items = doc.Summary
			}
			pdf.SetFont("Helvetica", "", 10)
			for _, f := range items {
				pdf.CellFormat(70, 6, tr(f.Key), "", 0, "L", false, 0, "")
				pdf.CellFormat(0, 6, tr(CellText(f.Value)), "", 1, "L", false, 0, "")
			}
			pdf.Ln(4)
		case "table":
			heading(s.Title, 13)
			drawTable(pdf, tr, doc.Columns, doc.Rows)
			pdf.Ln(4)
		case "spacer":
			pdf.Ln(10)
		default:
			heading(s.Title, 13)
			if s.Body != "" {
				pdf.SetFont("Helvetica", "", 10)
				pdf.MultiCell(0, 5, tr(s.Body), "", "L", false)
				pdf.Ln(4)
			}
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func drawTable(pdf *gofpdf.Fpdf, tr func(string) string, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	width := (pageW - left - right) / float64(len(columns))

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(31, 78, 121)
	pdf.SetTextColor(255, 255, 255)
	for _, c := range columns {
		pdf.CellFormat(width, 6, tr(truncate(c, width)), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(0, 0, 0)
	for _, row := range rows {
		for _, cell := range row {
			pdf.CellFormat(width, 6, tr(truncate(cell, width)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// truncate keeps a cell on one line; roughly 2mm per character at 8pt.
func truncate(s string, width float64) string {
	limit := int(width / 1.8)
	r := []rune(s)
	if limit < 4 || len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
