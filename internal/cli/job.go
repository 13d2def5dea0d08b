package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"orca/internal/jobs"
	"orca/internal/templates"
)

const jobTemplate = `Job:            {{.ID}}
Archive bucket: {{.ReportSource}}
Inventory time: {{formatTime .InventoryCreationTime}}
Status:         {{.Status}}
Started:        {{formatTime .StartTime}}
Last update:    {{formatTime .LastUpdate}}
{{- if .EndTime}}
Ended:          {{formatTime .EndTime}}
{{- end}}
{{- if .ErrorMessage}}
Error:          {{deref .ErrorMessage}}
{{- end}}
`

// jobView flattens a Job for output. Status is rendered by name.
type jobView struct {
	ID                    int64   `json:"id"`
	ReportSource          string  `json:"orcaArchiveLocation"`
	InventoryCreationTime string  `json:"inventoryCreationTime"`
	Status                string  `json:"status"`
	StartTime             string  `json:"startTime"`
	LastUpdate            string  `json:"lastUpdate"`
	EndTime               string  `json:"endTime,omitempty"`
	ErrorMessage          *string `json:"errorMessage,omitempty"`
}

func newJobView(j jobs.Job) jobView {
	v := jobView{
		ID:                    j.ID,
		ReportSource:          j.ReportSource,
		InventoryCreationTime: templates.FormatTime(j.InventoryCreationTime),
		Status:                j.Status.String(),
		StartTime:             templates.FormatTime(j.StartTime),
		LastUpdate:            templates.FormatTime(j.LastUpdate),
		ErrorMessage:          j.ErrorMessage,
	}
	if j.EndTime != nil {
		v.EndTime = templates.FormatTime(*j.EndTime)
	}
	return v
}

func newJobCmd(app *App) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect reconciliation jobs",
	}

	jobCmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the status of a reconciliation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return jobs.ErrorInvalidJobCursor(0)
			}
			if err := app.connect(cmd.Context()); err != nil {
				return err
			}

			job, err := app.Jobs.GetJob(cmd.Context(), jobs.JobCursor{JobID: id})
			if err != nil {
				return err
			}

			if app.jsonOutput {
				return app.printJSON(newJobView(job))
			}
			tmpl, err := templates.Parse("job", jobTemplate)
			if err != nil {
				return err
			}
			return tmpl.Execute(app.Out, job)
		},
	})

	return jobCmd
}
