package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"
)

type company struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

type recorderStub struct {
	format  string
	records int
	size    int64
	calls   int
}

func (r *recorderStub) ObserveSerialize(format string, records int, sizeBytes int64) {
	r.format, r.records, r.size = format, records, sizeBytes
	r.calls++
}

func mustSerialize(t *testing.T, s *Serializer, rows []any, format string, opts Options) *Output {
	t.Helper()
	out, err := s.Serialize(rows, format, opts)
	if err != nil {
		t.Fatalf("serialize %s: %v", format, err)
	}
	return out
}

func sameJSON(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected JSON %q: %v", want, err)
	}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("bad JSON %q: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestSerialize_CSVQuoting(t *testing.T) {
	out := mustSerialize(t, NewSerializer(nil, nil), []any{company{Name: "A, Inc", Amount: 100}}, FormatCSV,
		Options{IncludeHeaders: true, BaseName: "companies"})

	if got := string(out.Data); got != "\"name\",\"amount\"\n\"A, Inc\",100\n" {
		t.Errorf("csv = %q", got)
	}
	if out.FileName != "companies.csv" || out.SizeBytes != int64(len(out.Data)) || out.RecordCount != 1 {
		t.Errorf("unexpected output metadata %+v", out)
	}
}

func TestSerialize_CSVEscapesQuotesAndHonoursColumns(t *testing.T) {
	rows := []any{
		map[string]any{"name": `Say "hi"`, "amount": 5, "extra": true},
		map[string]any{"name": "B"},
	}

	out := mustSerialize(t, NewSerializer(nil, nil), rows, FormatCSV, Options{Columns: []string{"amount", "name", "missing"}})
	if got := string(out.Data); got != "5,\"Say \"\"hi\"\"\",\n,\"B\",\n" {
		t.Errorf("csv = %q", got)
	}
}

func TestFlatten_NestedArraysAndTimes(t *testing.T) {
	type doctor struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	row := struct {
		ID     string    `json:"id"`
		Doctor doctor    `json:"doctor"`
		Tags   []string  `json:"tags"`
		Empty  []string  `json:"empty"`
		At     time.Time `json:"at"`
		Note   *string   `json:"note"`
	}{
		ID:     "a1",
		Doctor: doctor{ID: "d1", Name: "Dr. Ray"},
		Tags:   []string{"x", "y"},
		Empty:  []string{},
		At:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	rec, err := Flatten(row)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}

	if keys := rec.Keys(); !slices.Equal(keys, []string{"id", "doctor.id", "doctor.name", "tags", "empty", "at", "note"}) {
		t.Fatalf("keys = %v", keys)
	}
	for key, want := range map[string]any{
		"doctor.name": "Dr. Ray",
		"tags":        `["x","y"]`,
		"empty":       "",
		"at":          "2024-01-02T03:04:05Z",
		"note":        nil,
	} {
		if v, _ := rec.Get(key); v != want {
			t.Errorf("%s = %#v, want %#v", key, v, want)
		}
	}
}

func TestFlattenCSVRoundTrip(t *testing.T) {
	rows := []any{
		map[string]any{"id": "r1", "patient": map[string]any{"name": `O"Neil, J`}, "fee": 12.5, "paid": true},
		map[string]any{"id": "r2", "patient": map[string]any{"name": "Lee"}, "fee": 0, "paid": false},
	}
	records, err := FlattenAll(rows)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	columns := records[0].Keys()

	data := EncodeCSV(records, columns, true)
	parsed, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(parsed) != len(records)+1 || !slices.Equal(parsed[0], columns) {
		t.Fatalf("parsed = %v", parsed)
	}

	for i, rec := range records {
		for j, col := range columns {
			v, _ := rec.Get(col)
			if got, want := parsed[i+1][j], CellText(v); got != want {
				t.Errorf("row %d column %s = %q, want %q", i, col, got, want)
			}
		}
	}
}

func TestSerialize_ExcelIsCSVUnderXLSXName(t *testing.T) {
	s := NewSerializer(nil, nil)
	rows := []any{company{Name: "A", Amount: 1}}

	csvOut := mustSerialize(t, s, rows, FormatCSV, Options{IncludeHeaders: true, BaseName: "x"})
	xlsOut := mustSerialize(t, s, rows, FormatExcel, Options{IncludeHeaders: true, BaseName: "x"})

	if !bytes.Equal(csvOut.Data, xlsOut.Data) {
		t.Errorf("excel bytes differ from csv: %q vs %q", xlsOut.Data, csvOut.Data)
	}
	if xlsOut.FileName != "x.xlsx" || xlsOut.ContentType != contentTypeXLSX {
		t.Errorf("excel file = %s (%s)", xlsOut.FileName, xlsOut.ContentType)
	}
}

func TestSerialize_JSONKeepsKeyOrder(t *testing.T) {
	s := NewSerializer(nil, nil)

	out := mustSerialize(t, s, []any{company{Name: "A", Amount: 1}}, FormatJSON, Options{BaseName: "rows"})
	if got := string(out.Data); got != "[\n  {\n    \"name\": \"A\",\n    \"amount\": 1\n  }\n]\n" {
		t.Errorf("json = %q", got)
	}

	out = mustSerialize(t, s, nil, FormatJSON, Options{Summary: map[string]int{"total": 0}})
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out.Data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sameJSON(t, `{"total":0}`, string(doc["summary"]))
	sameJSON(t, `[]`, string(doc["data"]))
}

func TestSerialize_PDFDefaultsToHTML(t *testing.T) {
	rows := []any{company{Name: "<script>", Amount: 3}}

	out := mustSerialize(t, NewSerializer(nil, nil), rows, FormatPDF, Options{
		IncludeHeaders: true,
		BaseName:       "Monthly Revenue!",
		Title:          "Monthly revenue",
		Summary:        map[string]string{"total": "3.00"},
	})

	if out.FileName != "monthly-revenue.html" || !strings.HasPrefix(out.ContentType, "text/html") {
		t.Errorf("file = %s (%s)", out.FileName, out.ContentType)
	}
	html := string(out.Data)
	for _, want := range []string{"<h1>Monthly revenue</h1>", "<th>name</th>", "&lt;script&gt;", "<dt>total</dt><dd>3.00</dd>"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in document", want)
		}
	}
}

func TestSerialize_GofpdfRenderer(t *testing.T) {
	s := NewSerializer(NewRenderer(RendererGofpdf), nil)
	rows := []any{company{Name: "A", Amount: 1}, company{Name: "B", Amount: 2}}

	out := mustSerialize(t, s, rows, FormatPDF, Options{
		BaseName: "report",
		Title:    "Report",
		Layout:   Layout{ShowPageNumbers: true},
		Sections: []Section{{ID: "h", Type: "header"}, {ID: "t", Type: "table", Title: "Rows"}},
	})
	if out.FileName != "report.pdf" || out.ContentType != "application/pdf" {
		t.Errorf("file = %s (%s)", out.FileName, out.ContentType)
	}
	if !bytes.HasPrefix(out.Data, []byte("%PDF-")) {
		t.Errorf("expected a PDF document, got %.20q", out.Data)
	}
}

func TestSerialize_RecordsObservation(t *testing.T) {
	rec := &recorderStub{}
	out := mustSerialize(t, NewSerializer(nil, rec), []any{company{Name: "A"}, company{Name: "B"}}, FormatCSV, Options{})

	if rec.calls != 1 || rec.format != FormatCSV || rec.records != 2 || rec.size != out.SizeBytes {
		t.Errorf("observation = %+v, output size %d", rec, out.SizeBytes)
	}
}

func TestSerialize_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewSerializer(nil, nil).Serialize(nil, "docx", Options{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
