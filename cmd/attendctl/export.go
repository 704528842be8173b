package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
	"faceattend/internal/export"
)

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		q      attendance.ReportQuery
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a daily or semester attendance report",
		Example: `  attendctl export --date 2024-03-01
  attendctl export --type semester --semester 3 --department CSE --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := root.openStack(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer stack.Close()

			rep, err := stack.Service.Report(cmd.Context(), q)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := export.Write(&buf, rep, format); err != nil {
				return err
			}
			path := filepath.Join(outDir, export.Filename(rep, format))
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d record(s) to %s\n", len(rep.Records), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Kind, "type", attendance.ReportDaily, "Report type: daily or semester")
	cmd.Flags().StringVar(&q.Date, "date", "", "Day for daily reports (default today)")
	cmd.Flags().StringVar(&q.Semester, "semester", "", "Semester for semester reports")
	cmd.Flags().StringVar(&q.Department, "department", "", "Department for semester reports")
	cmd.Flags().StringVar(&format, "format", export.FormatXLSX, "Output format: xlsx or csv")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	return cmd
}
