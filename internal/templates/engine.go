// Package templates validates, previews and renders declarative report templates.
package templates

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/storage"
)

const (
	SectionHeader  = "header"
	SectionSummary = "summary"
	SectionChart   = "chart"
	SectionTable   = "table"
	SectionText    = "text"
	SectionImage   = "image"
	SectionSpacer  = "spacer"
)

// ReportTypeDefault marks templates that are not bound to one report type.
const ReportTypeDefault = "default"

var (
	baseSections = []string{SectionHeader, SectionSummary, SectionText, SectionSpacer}
	dataSections = []string{SectionChart, SectionTable}
)

var (
	orientations = []string{"portrait", "landscape"}
	pageSizes    = []string{"A3", "A4", "A5", "Letter", "Legal"}
)

const snippetLength = 120

// AllowedSectionTypes is the section vocabulary of a report type. Image sections
// are only available to templates that are not bound to one of the known types.
func AllowedSectionTypes(reportType string) []string {
	out := append([]string{}, baseSections...)
	out = append(out, dataSections...)
	if !storage.ReportType(reportType).Valid() {
		out = append(out, SectionImage)
	}
	return out
}

func sectionAllowed(reportType, sectionType string) bool {
	for _, t := range AllowedSectionTypes(reportType) {
		if t == sectionType {
			return true
		}
	}
	return false
}

// ValidationResult lists every structural problem of a template.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Validate checks a structure against the section vocabulary of reportType.
// Problems accumulate; the result is a pure function of its input.
func Validate(structure storage.TemplateStructure, reportType string) ValidationResult {
	errs := []string{}
	if len(structure.Sections) == 0 {
		errs = append(errs, "template must contain at least one section")
	}

	seen := make(map[string]int, len(structure.Sections))
	for i, s := range structure.Sections {
		id := strings.TrimSpace(s.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Sprintf("sections[%d].id is required", i))
		default:
			if first, dup := seen[id]; dup {
				errs = append(errs, fmt.Sprintf("section id %q must be unique (sections[%d] and sections[%d])", id, first, i))
			} else {
				seen[id] = i
			}
		}

		switch {
		case s.Type == "":
			errs = append(errs, fmt.Sprintf("sections[%d].type is required", i))
		case !sectionAllowed(reportType, s.Type):
			errs = append(errs, fmt.Sprintf("sections[%d].type %q is not allowed for report type %s (allowed: %s)",
				i, s.Type, reportType, strings.Join(AllowedSectionTypes(reportType), ", ")))
		}
	}

	for _, ref := range structure.PageBreaks {
		if _, ok := seen[ref]; !ok {
			errs = append(errs, fmt.Sprintf("pageBreaks references unknown section %q", ref))
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// ValidateLayout checks the enumerated layout fields.
func ValidateLayout(layout storage.TemplateLayout) []string {
	var errs []string
	if layout.Orientation != "" && !contains(orientations, layout.Orientation) {
		errs = append(errs, fmt.Sprintf("layout.orientation must be one of %s", strings.Join(orientations, ", ")))
	}
	if layout.PageSize != "" && !contains(pageSizes, layout.PageSize) {
		errs = append(errs, fmt.Sprintf("layout.pageSize must be one of %s", strings.Join(pageSizes, ", ")))
	}
	if layout.Format != "" && !export.ValidFormat(layout.Format) {
		errs = append(errs, fmt.Sprintf("layout.format must be one of %s", strings.Join(export.Formats, ", ")))
	}
	for name, m := range layout.Margins {
		if m < 0 {
			errs = append(errs, fmt.Sprintf("layout.margins.%s must not be negative", name))
		}
	}
	return errs
}

// SectionPreview is the gallery descriptor of one section.
type SectionPreview struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Placeholder map[string]any `json:"placeholder"`
}

// Preview describes every section with a placeholder that fits its type.
// It never reads report data.
func Preview(t *storage.Template) []SectionPreview {
	out := make([]SectionPreview, 0, len(t.Structure.Sections))
	for _, s := range t.Structure.Sections {
		p := SectionPreview{ID: s.ID, Type: s.Type, Title: sectionTitle(s)}
		switch s.Type {
		case SectionChart:
			p.Placeholder = map[string]any{"chartType": contentString(s, "chartType", "bar")}
		case SectionTable:
			p.Placeholder = map[string]any{"columns": contentStrings(s, "columns", defaultColumns(t.ReportType))}
		case SectionText:
			p.Placeholder = map[string]any{"snippet": snippet(contentString(s, "text", ""))}
		case SectionSummary:
			p.Placeholder = map[string]any{"metrics": contentStrings(s, "metrics", nil)}
		case SectionHeader:
			p.Placeholder = map[string]any{"title": contentString(s, "title", t.Name)}
		case SectionImage:
			p.Placeholder = map[string]any{"src": contentString(s, "src", "")}
		case SectionSpacer:
			p.Placeholder = map[string]any{"height": contentString(s, "height", "24")}
		}
		out = append(out, p)
	}
	return out
}

// RenderedSection is a section filled with report data.
type RenderedSection struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content any    `json:"content,omitempty"`
}

// Rendered is the structured output description of a template applied to a result.
type Rendered struct {
	TemplateID      string                 `json:"templateId"`
	Name            string                 `json:"name"`
	Layout          storage.TemplateLayout `json:"layout"`
	Sections        []RenderedSection      `json:"sections"`
	PageBreaks      []string               `json:"pageBreaks,omitempty"`
	ShowPageNumbers bool                   `json:"showPageNumbers"`
}

// Render fills each visible section from result. Chart sections pick their
// chart by content.chartId, or by position among chart sections.
func Render(t *storage.Template, result *aggregation.Result) *Rendered {
	out := &Rendered{
		TemplateID:      t.ID.String(),
		Name:            t.Name,
		Layout:          t.Layout,
		PageBreaks:      t.Structure.PageBreaks,
		ShowPageNumbers: t.Structure.ShowPageNumbers,
	}

	chartIndex := 0
	for _, s := range t.Structure.Sections {
		if hidden(s, result) {
			if s.Type == SectionChart {
				chartIndex++
			}
			continue
		}
		rs := RenderedSection{ID: s.ID, Type: s.Type, Title: sectionTitle(s)}
		switch s.Type {
		case SectionHeader:
			rs.Content = map[string]any{
				"title":    contentString(s, "title", t.Name),
				"subtitle": fmt.Sprintf("%s to %s", result.Period.From, result.Period.To),
			}
		case SectionSummary:
			rs.Content = result.Summary
		case SectionChart:
			rs.Content = pickChart(s, result.Charts, chartIndex)
			chartIndex++
		case SectionTable:
			rs.Content = map[string]any{
				"columns":     contentStrings(s, "columns", nil),
				"recordCount": result.RecordCount,
			}
		case SectionText:
			rs.Content = map[string]any{"text": contentString(s, "text", "")}
		case SectionImage:
			rs.Content = map[string]any{"src": contentString(s, "src", "")}
		}
		out.Sections = append(out.Sections, rs)
	}
	return out
}

// DocumentSections converts rendered sections for the printable renderers.
func (r *Rendered) DocumentSections() []export.Section {
	out := make([]export.Section, 0, len(r.Sections))
	for _, s := range r.Sections {
		ds := export.Section{ID: s.ID, Type: s.Type, Title: s.Title}
		switch s.Type {
		case SectionHeader:
			if m, ok := s.Content.(map[string]any); ok {
				ds.Title, _ = m["title"].(string)
				ds.Body, _ = m["subtitle"].(string)
			}
		case SectionText:
			if m, ok := s.Content.(map[string]any); ok {
				ds.Body, _ = m["text"].(string)
			}
		case SectionChart:
			if c, ok := s.Content.(*aggregation.Chart); ok && c != nil {
				ds.Type = SectionSummary
				ds.Items = chartItems(c)
			} else {
				ds.Type = SectionText
				ds.Body = "No chart data"
			}
		case SectionImage:
			ds.Type = SectionText
			if m, ok := s.Content.(map[string]any); ok {
				ds.Body, _ = m["src"].(string)
			}
		}
		out = append(out, ds)
	}
	return out
}

// DocumentLayout maps the template layout onto the renderer layout.
func (r *Rendered) DocumentLayout() export.Layout {
	return export.Layout{
		Orientation:     r.Layout.Orientation,
		PageSize:        r.Layout.PageSize,
		PrimaryColor:    r.Layout.Colors["primary"],
		ShowPageNumbers: r.ShowPageNumbers,
	}
}

// TableColumns returns the columns requested by the first table section, if any.
func (r *Rendered) TableColumns() []string {
	for _, s := range r.Sections {
		if s.Type != SectionTable {
			continue
		}
		if m, ok := s.Content.(map[string]any); ok {
			cols, _ := m["columns"].([]string)
			return cols
		}
	}
	return nil
}

func chartItems(c *aggregation.Chart) export.Record {
	var rec export.Record
	for _, series := range c.Series {
		for i, label := range c.Labels {
			if i >= len(series.Values) {
				break
			}
			key := label
			if len(c.Series) > 1 {
				key = series.Name + " " + label
			}
			rec = append(rec, export.Field{Key: key, Value: series.Values[i]})
		}
	}
	return rec
}

func pickChart(s storage.TemplateSection, charts []aggregation.Chart, index int) *aggregation.Chart {
	if id := contentString(s, "chartId", ""); id != "" {
		for i := range charts {
			if charts[i].ID == id {
				return &charts[i]
			}
		}
		return nil
	}
	if index < len(charts) {
		return &charts[index]
	}
	return nil
}

// hidden applies visibility rules: {"hidden": true} always hides; {"hideWhenEmpty": true}
// hides data sections when the result has no records.
func hidden(s storage.TemplateSection, result *aggregation.Result) bool {
	if v, _ := s.Visibility["hidden"].(bool); v {
		return true
	}
	if v, _ := s.Visibility["hideWhenEmpty"].(bool); v && result.RecordCount == 0 {
		return s.Type == SectionTable || s.Type == SectionChart || s.Type == SectionSummary
	}
	return false
}

func sectionTitle(s storage.TemplateSection) string {
	if s.Title != "" {
		return s.Title
	}
	if s.Type == "" {
		return ""
	}
	return strings.ToUpper(s.Type[:1]) + s.Type[1:]
}

func contentString(s storage.TemplateSection, key, fallback string) string {
	switch v := s.Content[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return fallback
}

func contentStrings(s storage.TemplateSection, key string, fallback []string) []string {
	switch v := s.Content[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	r := []rune(text)
	return string(r[:snippetLength-3]) + "..."
}

// defaultColumns are the bucket row columns of each report kind.
func defaultColumns(reportType string) []string {
	switch storage.ReportType(reportType) {
	case storage.ReportTypeAppointmentSummary:
		return []string{"period", "total", "completed", "cancelled", "noShow"}
	case storage.ReportTypeRevenueAnalysis:
		return []string{"period", "payments", "paidRevenue", "pendingAmount", "refundedAmount"}
	case storage.ReportTypeAgentPerformance:
		return []string{"rank", "agentName", "bookings", "completed", "revenue", "completionRate"}
	case storage.ReportTypeCustomerSatisfaction:
		return []string{"period", "ratings", "averageRating"}
	case storage.ReportTypeOperationalMetrics:
		return []string{"hospitalName", "appointments", "completed", "share"}
	default:
		return []string{"id", "name", "value"}
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
