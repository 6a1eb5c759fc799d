package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/config"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing"
)

func NewReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "process recorded telemetry frames (json lines) and print the laps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayFile(cmd.Context(), args[0])
		},
	}
}

//nolint:funlen // by design
func replayFile(ctx context.Context, name string) error {
	if _, err := util.SetupLogger(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	sinks, err := util.SetupSinks(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("error closing sinks", log.ErrorField(err))
		}
	}()

	var reports []*model.LapReport
	proc, err := util.NewSession(ctx,
		processing.WithLapHandler(sinks.Dispatcher.Handle),
		processing.WithLapHandler(func(r *model.LapReport) {
			reports = append(reports, r)
		}))
	if err != nil {
		return err
	}
	defer proc.Close()
	if config.WatchLayout && config.LayoutFile != "" {
		if err := util.WatchLayout(ctx, config.LayoutFile, proc); err != nil {
			return err
		}
	}

	frames, err := Replay(ctx, f, proc)
	if err != nil {
		return err
	}
	RenderLaps(os.Stdout, reports, proc.Layout().Len())
	RenderSummary(os.Stdout, frames, proc)
	return nil
}

// Replay feeds all frames read from r into proc. It returns the number of
// frames read.
func Replay(ctx context.Context, r io.Reader, proc *processing.Processor) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var frame map[string]any
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("frame %d: %w", count+1, err)
		}
		count++
		out := proc.ProcessFrame(frame)
		if config.PrintFrames {
			log.Debug("frame", log.Any("frame", out))
		}
	}
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// RenderLaps prints a table with one row per lap.
func RenderLaps(w io.Writer, reports []*model.LapReport, sectors int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	header := table.Row{"Lap"}
	for i := range sectors {
		header = append(header, fmt.Sprintf("S%d", i+1))
	}
	header = append(header, "Total", "Complete", "Valid", "Conf", "Notes")
	t.AppendHeader(header)
	for _, r := range reports {
		times := make([]*float64, sectors)
		for _, st := range r.Lap.Sectors {
			if st.SectorIndex < sectors {
				d := st.Duration
				times[st.SectorIndex] = &d
			}
		}
		row := table.Row{r.Lap.LapNumber}
		for _, v := range times {
			row = append(row, fmtOpt(v))
		}
		notes := slices.Clone(r.Notes)
		if r.Validation != nil {
			notes = append(notes, r.Validation.Notes...)
		}
		row = append(row,
			fmt.Sprintf("%.3f", r.Lap.TotalDuration),
			yesNo(r.Lap.IsComplete),
			yesNo(r.Lap.IsValid),
			fmt.Sprintf("%.2f", r.Confidence),
			strings.Join(notes, "; "))
		t.AppendRow(row)
	}
	t.Render()
}

// RenderSummary prints best times and the session statistics.
func RenderSummary(w io.Writer, frames int, proc *processing.Processor) {
	stats := proc.Statistics()
	pr := proc.Progress()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendRow(table.Row{"Frames", frames})
	t.AppendRow(table.Row{"Malformed frames", stats.MalformedFrames})
	t.AppendRow(table.Row{"Laps", stats.Laps})
	t.AppendRow(table.Row{"Valid laps", stats.Engine.ValidLaps})
	t.AppendRow(table.Row{"Best lap", fmtOpt(pr.BestLapTime)})
	if tb, ok := proc.TheoreticalBest(); ok {
		t.AppendRow(table.Row{"Theoretical best", fmt.Sprintf("%.3f", tb)})
	}
	for i, b := range pr.BestSectorTimes {
		t.AppendRow(table.Row{fmt.Sprintf("Best S%d", i+1), fmtOpt(b)})
	}
	t.AppendRow(table.Row{"Reliability", stats.Reliability.Status})
	if stats.Validation.TotalValidations > 0 {
		t.AppendRow(table.Row{"Validation", fmt.Sprintf("%s (%.1f%% valid)",
			stats.Validation.Status, stats.Validation.SuccessRate)})
	}
	t.Render()
}
