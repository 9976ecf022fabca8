package commands

import (
	"github.com/dataresearchcenter/datasets/internal/sources"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Lists the built-in sources.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Source", "Dataset", "Endpoint", "Description"})

		for _, name := range sources.Names() {
			src, err := sources.Get(name)
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{src.Name, src.Dataset, src.BaseURL + src.Endpoint, src.Description})
		}

		t.Render()
		return nil
	},
}
