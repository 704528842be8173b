// Package export renders attendance reports as spreadsheets.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"faceattend/internal/attendance"
)

// Supported formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// SheetName is the worksheet holding the rows of an XLSX export.
const SheetName = "Attendance"

const unknown = "Unknown"

// Header is the first row of every export.
var Header = []string{"Student ID", "Name", "Department", "Semester", "Date", "Time"}

// ErrFormat reports an unsupported export format.
var ErrFormat = errors.New("unsupported export format")

// Rows flattens a report into cell values. Students missing from the report
// are shown as Unknown.
func Rows(rep attendance.Report) [][]string {
	rows := make([][]string, 0, len(rep.Records))
	for _, r := range rep.Records {
		name, dept, sem := unknown, unknown, unknown
		if st, ok := rep.Students[r.StudentID]; ok {
			name, dept, sem = st.Name, st.Department, st.Semester
		}
		rows = append(rows, []string{r.StudentID, name, dept, sem, r.Date, r.Time})
	}
	return rows
}

// Filename returns the download name for rep in format.
func Filename(rep attendance.Report, format string) string {
	return rep.Name + "." + format
}

// ContentType returns the MIME type of format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Write renders rep to w in format.
func Write(w io.Writer, rep attendance.Report, format string) error {
	switch format {
	case "", FormatXLSX:
		return WriteXLSX(w, rep)
	case FormatCSV:
		return WriteCSV(w, rep)
	default:
		return fmt.Errorf("%w: %q", ErrFormat, format)
	}
}

// WriteXLSX renders rep as a single-sheet workbook.
func WriteXLSX(w io.Writer, rep attendance.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, h := range Header {
		f.SetCellValue(SheetName, cell(i, 1), h)
	}
	f.SetCellStyle(SheetName, cell(0, 1), cell(len(Header)-1, 1), headerStyle)
	f.SetColWidth(SheetName, "A", "A", 14)
	f.SetColWidth(SheetName, "B", "B", 24)
	f.SetColWidth(SheetName, "C", "D", 14)
	f.SetColWidth(SheetName, "E", "F", 12)

	for r, row := range Rows(rep) {
		for c, v := range row {
			f.SetCellValue(SheetName, cell(c, r+2), v)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV renders rep as comma separated values with a header row.
func WriteCSV(w io.Writer, rep attendance.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	if err := cw.WriteAll(Rows(rep)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
