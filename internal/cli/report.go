package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"orca/internal/reports"
	"orca/internal/templates"
)

const (
	mismatchTemplate = `{{range .Items}}{{.CollectionID}}  {{.GranuleID}}  {{.KeyPath}}  {{.DiscrepancyType}}
    catalog: etag={{.OrcaEtag}} size={{formatBytes .OrcaSizeInBytes}} class={{.OrcaStorageClass}} updated={{formatMillis .OrcaLastUpdate}}
    s3:      etag={{.S3Etag}} size={{formatBytes .S3SizeInBytes}} class={{.S3StorageClass}} updated={{formatMillis .S3LastUpdate}}
{{end}}` + pageFooter

	phantomTemplate = `{{range .Items}}{{.CollectionID}}  {{.GranuleID}}  {{.KeyPath}}  etag={{.OrcaEtag}} size={{formatBytes .OrcaSizeInBytes}} class={{.OrcaStorageClass}}
{{end}}` + pageFooter

	pageFooter = `{{len .Items}} rows{{if .AnotherPage}}, more available{{end}}
{{- if .StartCursor}}
start cursor: {{deref .StartCursor}}{{end}}
{{- if .EndCursor}}
end cursor:   {{deref .EndCursor}}{{end}}
`

	orphanTemplate = `{{range .Orphans}}{{.KeyPath}}  etag={{.Etag}} size={{formatBytes .SizeInBytes}} class={{.StorageClass}} updated={{formatMillis .LastUpdate}}
{{end}}{{len .Orphans}} orphans in job {{.JobID}}{{if .AnotherPage}}, more available{{end}}
{{- if .EndCursor}}
end cursor: {{deref .EndCursor}}{{end}}
`
)

type pageFlags struct {
	cursor    string
	direction string
	limit     int
}

func (f *pageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().StringVar(&f.direction, "direction", string(reports.Next), "Paging direction: next or previous")
	cmd.Flags().IntVar(&f.limit, "limit", 100, "Rows per page")
}

func (f *pageFlags) request(jobArg string) (reports.PageRequest, error) {
	id, err := strconv.ParseInt(jobArg, 10, 64)
	if err != nil {
		return reports.PageRequest{}, reports.ErrorInvalidJobID(0)
	}
	return reports.PageRequest{
		JobID:     id,
		Cursor:    f.cursor,
		Direction: reports.Direction(f.direction),
		Limit:     f.limit,
	}, nil
}

func (a *App) render(name, text string, data any) error {
	if a.jsonOutput {
		return a.printJSON(data)
	}
	tmpl, err := templates.Parse(name, text)
	if err != nil {
		return err
	}
	return tmpl.Execute(a.Out, data)
}

func newReportCmd(app *App) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Read reconciliation reports",
	}

	var mismatchFlags pageFlags
	mismatchCmd := &cobra.Command{
		Use:   "mismatches <job-id>",
		Short: "List catalog files whose attributes disagree with the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := mismatchFlags.request(args[0])
			if err != nil {
				return err
			}
			if err := app.connect(cmd.Context()); err != nil {
				return err
			}
			page, err := app.Reports.GetMismatchPage(cmd.Context(), req)
			if err != nil {
				return err
			}
			return app.render("mismatches", mismatchTemplate, page)
		},
	}
	mismatchFlags.bind(mismatchCmd)

	var phantomFlags pageFlags
	phantomCmd := &cobra.Command{
		Use:   "phantoms <job-id>",
		Short: "List catalog files missing from the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := phantomFlags.request(args[0])
			if err != nil {
				return err
			}
			if err := app.connect(cmd.Context()); err != nil {
				return err
			}
			page, err := app.Reports.GetPhantomPage(cmd.Context(), req)
			if err != nil {
				return err
			}
			return app.render("phantoms", phantomTemplate, page)
		},
	}
	phantomFlags.bind(phantomCmd)

	var orphanFlags pageFlags
	var pageIndex int
	orphanCmd := &cobra.Command{
		Use:   "orphans <job-id>",
		Short: "List inventory objects unknown to the catalog",
		Long: `List inventory objects unknown to the catalog. Pages are selected by
--page (fixed pages of 100) unless --cursor is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := orphanFlags.request(args[0])
			if err != nil {
				return err
			}
			if err := app.connect(cmd.Context()); err != nil {
				return err
			}

			var page reports.OrphanPage
			if req.Cursor != "" {
				page, err = app.Reports.GetOrphanPage(cmd.Context(), req)
			} else {
				page, err = app.Reports.GetOrphansByIndex(cmd.Context(), req.JobID, pageIndex)
			}
			if err != nil {
				return err
			}
			return app.render("orphans", orphanTemplate, page)
		},
	}
	orphanFlags.bind(orphanCmd)
	orphanCmd.Flags().IntVar(&pageIndex, "page", 0, "Zero-based page index")

	reportCmd.AddCommand(mismatchCmd, phantomCmd, orphanCmd)
	return reportCmd
}
