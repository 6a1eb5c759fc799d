package layout

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/layout"
)

func NewLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout [FILE]",
		Short: "show the sector layout resolved from a file or the layout flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			var src layout.Source
			if len(args) == 1 {
				src = layout.FileSource(args[0])
			} else {
				var err error
				if src, err = util.ResolveSource(cmd.Context()); err != nil {
					return err
				}
			}
			l, err := layout.Resolve(src)
			if err != nil {
				return err
			}
			Render(os.Stdout, l)
			return nil
		},
	}
}

// Render prints one row per sector with its start and end fraction.
func Render(w io.Writer, l *layout.Layout) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Layout (%s)", l.Source()))
	t.AppendHeader(table.Row{"Sector", "Start", "End", "Share"})
	fractions := l.Fractions()
	for i, start := range fractions {
		end := 1.0
		if i+1 < len(fractions) {
			end = fractions[i+1]
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("S%d", i+1),
			fmt.Sprintf("%.4f", start),
			fmt.Sprintf("%.4f", end),
			fmt.Sprintf("%.1f%%", (end-start)*100),
		})
	}
	t.Render()
}
