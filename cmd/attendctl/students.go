package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
)

func newStudentsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "students",
		Short: "List enrolled students",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := root.openStack(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer stack.Close()

			students, err := stack.Service.Students(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(students)
			}
			if len(students) == 0 {
				fmt.Fprintln(out, "No students enrolled.")
				return nil
			}
			rows := make([][]string, 0, len(students))
			for _, st := range students {
				blocked := "no"
				if st.Blocked {
					blocked = "yes"
				}
				rows = append(rows, []string{st.ID, st.Name, st.Department, st.Semester, st.EnrolledDate, blocked})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Department", "Semester", "Enrolled", "Blocked"}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newRecordsCmd(root *rootOptions) *cobra.Command {
	var f attendance.RecordFilter
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Show attendance records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := root.openStack(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer stack.Close()

			f.Newest = true
			records, err := stack.Service.Records(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No records.")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.StudentID, r.Date, r.Time, r.Method})
			}
			fmt.Fprintln(out, renderTable([]string{"Student", "Date", "Time", "Method"}, rows))
			fmt.Fprintf(out, "%d record(s)\n", len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StudentID, "student", "", "Only this student")
	cmd.Flags().StringVar(&f.Date, "date", "", "Only this day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum rows")
	return cmd
}

func newEnrollCmd(root *rootOptions) *cobra.Command {
	var e attendance.Enrollment
	cmd := &cobra.Command{
		Use:   "enroll <image>",
		Short: "Enroll a student from a photo file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			stack, err := root.openStack(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer stack.Close()

			e.Image = img
			e.EnrolledBy = "attendctl"
			st, err := stack.Service.Enroll(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s (%s)\n", st.ID, st.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&e.StudentID, "id", "", "Student ID")
	cmd.Flags().StringVar(&e.Name, "name", "", "Student name")
	cmd.Flags().StringVar(&e.Department, "department", "", "Department")
	cmd.Flags().StringVar(&e.Semester, "semester", "", "Semester")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
