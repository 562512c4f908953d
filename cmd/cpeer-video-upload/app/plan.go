package app

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/videoupload/cmd/cpeer-video-upload/app/options"
	"github.com/autopeer-io/videoupload/internal/videoagent"
	"github.com/autopeer-io/videoupload/internal/videoagent/uploader"
)

func newPlanCommand(opts *options.UploadOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the local segments the next upload pass would move",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.Settings()
			if err != nil {
				return err
			}

			artifacts, err := videoagent.PlanUploads(afero.NewOsFs(), s)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), artifacts)
		},
	}
}

func printPlan(w io.Writer, artifacts []uploader.Artifact) error {
	if len(artifacts) == 0 {
		_, err := fmt.Fprintln(w, "No segments to upload.")
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	table.AddRow("FILE", "SIZE", "DESTINATION")

	var total int64
	for _, a := range artifacts {
		table.AddRow(a.Path, humanize.IBytes(uint64(a.Size)), a.Key)
		total += a.Size
	}

	_, err := fmt.Fprintf(w, "%s\n\n%d segment(s), %s\n", table, len(artifacts), humanize.IBytes(uint64(total)))
	return err
}
