package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/normalize"
	"github.com/seantiz/examlens/internal/resolve"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgYellow)
)

type inspectOptions struct {
	mode         string
	target       string
	groupByClass bool
	jsonOutput   bool
}

func addCommonFlags(cmd *cobra.Command, o *inspectOptions) {
	cmd.Flags().StringVar(&o.mode, "mode", string(model.ModeClass), "table mode: class or student")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "print JSON instead of a table")
}

func newNormalizeCmd() *cobra.Command {
	var o inspectOptions
	cmd := &cobra.Command{
		Use:   "normalize <csv>",
		Short: "Print the normalized score rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := loadTable(args[0], o.mode)
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), tbl)
			}
			return renderRows(cmd.OutOrStdout(), tbl)
		},
	}
	addCommonFlags(cmd, &o)
	return cmd
}

func newSubjectsCmd() *cobra.Command {
	var o inspectOptions
	cmd := &cobra.Command{
		Use:   "subjects <csv>",
		Short: "Print the resolved subjects in dispatch order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := loadTable(args[0], o.mode)
			if err != nil {
				return err
			}
			target, err := resolve.ParseTarget(o.target)
			if err != nil {
				return err
			}
			subjects, err := resolve.Resolve(tbl, resolve.Options{Target: target, GroupByClass: o.groupByClass})
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), subjects)
			}
			return renderSubjects(cmd.OutOrStdout(), subjects)
		},
	}
	addCommonFlags(cmd, &o)
	cmd.Flags().StringVar(&o.target, "target", string(resolve.TargetQuestions), "subject target: questions, groups or umbrella")
	cmd.Flags().BoolVar(&o.groupByClass, "group-by-class", false, "group student rows by class")
	return cmd
}

func loadTable(path, mode string) (*normalize.Table, error) {
	m, err := model.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	raw, err := readCSV(f)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize(raw, m)
}

// readCSV turns a header row plus data rows into a RawTable. A UTF-8 BOM
// on the first header is dropped.
func readCSV(r io.Reader) (normalize.RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return normalize.RawTable{}, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return normalize.RawTable{}, normalize.ErrEmptyTable
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	raw := normalize.RawTable{Columns: header}
	for _, rec := range records[1:] {
		row := make(normalize.Record, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw, nil
}

func renderRows(w io.Writer, tbl *normalize.Table) error {
	data := make([][]string, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		data = append(data, []string{
			r.SubjectID,
			tbl.Labels[r.SubjectID],
			r.GroupName,
			formatFloat(r.AbsoluteScore()),
			formatFloat(r.FullScore),
			fmt.Sprintf("%.1f%%", r.Rate()*100),
		})
	}
	if err := renderTable(w, headers("Subject", "Label", "Group", "Score", "Full", "Rate"), data); err != nil {
		return err
	}
	return writeWarnings(w, tbl.Warnings)
}

func renderSubjects(w io.Writer, subjects []model.Subject) error {
	data := make([][]string, 0, len(subjects))
	for i, s := range subjects {
		label := s.Label
		if label == "" {
			label = s.GroupName
		}
		data = append(data, []string{
			strconv.Itoa(i + 1),
			s.ID,
			s.Kind,
			label,
			strings.Join(s.Groups, ", "),
		})
	}
	return renderTable(w, headers("#", "ID", "Kind", "Label", "Groups"), data)
}

func renderTable(w io.Writer, header []string, data [][]string) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header(header)
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func headers(names ...string) []string {
	bold := headerColor.SprintFunc()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = bold(n)
	}
	return out
}

func writeWarnings(w io.Writer, warnings []string) error {
	for _, msg := range warnings {
		if _, err := fmt.Fprintln(w, warnColor.Sprint("warning: "+msg)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
