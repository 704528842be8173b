package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"faceattend/internal/attendance"
)

func sampleReport() attendance.Report {
	return attendance.Report{
		Name: "attendance_2024-05-14",
		Records: []attendance.Record{
			{StudentID: "S1", Date: "2024-05-14", Time: "09:00:00"},
			{StudentID: "gone", Date: "2024-05-14", Time: "09:05:00"},
		},
		Students: map[string]attendance.Student{
			"S1": {ID: "S1", Name: "Ada", Department: "CSE", Semester: "3"},
		},
	}
}

func TestRows(t *testing.T) {
	got := Rows(sampleReport())
	want := [][]string{
		{"S1", "Ada", "CSE", "3", "2024-05-14", "09:00:00"},
		{"gone", "Unknown", "Unknown", "Unknown", "2024-05-14", "09:05:00"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(), FormatXLSX); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != SheetName {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if !reflect.DeepEqual(rows[0], Header) {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[2][1] != "Unknown" {
		t.Fatalf("missing student name = %q", rows[2][1])
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(), FormatCSV); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[1][1] != "Ada" {
		t.Fatalf("csv = %v", records)
	}
}

func TestWriteEmptyAndUnsupported(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, attendance.Report{Name: "attendance_x"}); err != nil {
		t.Fatalf("empty report: %v", err)
	}
	if err := Write(&buf, sampleReport(), "pdf"); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if got := Filename(sampleReport(), FormatCSV); got != "attendance_2024-05-14.csv" {
		t.Fatalf("filename = %s", got)
	}
}
