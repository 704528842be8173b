package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faceattend/internal/face"
)

func newIdentifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "identify <image>",
		Short: "Match a photo against enrolled faces without recording attendance",
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

			out := cmd.OutOrStdout()
			match, err := stack.Service.Identify(cmd.Context(), img)
			if errors.Is(err, face.ErrNoMatch) {
				fmt.Fprintf(out, "No enrolled face within threshold %.0f\n", stack.Matcher.Threshold())
				return nil
			}
			if err != nil {
				return err
			}
			st, err := stack.Service.Student(cmd.Context(), match.StudentID)
			if err != nil {
				return err
			}
			rows := [][]string{{st.ID, st.Name, st.Department, st.Semester, fmt.Sprintf("%.1f", match.Score)}}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Department", "Semester", "Score"}, rows, 4))
			return nil
		},
	}
}
