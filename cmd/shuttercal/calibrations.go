package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewCalibrationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrations",
		Aliases: []string{"calibration", "cal"},
		Short:   "Inspect and edit stored cover travel times",
		Long: `Inspect and edit stored cover travel times.

Changes are written to calibration.store_path. Stop a running daemon before
set or delete: it keeps its own copy and overwrites the file on its next save.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List travel times of every cover",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storeFromConfig()
			if err != nil {
				return err
			}

			printCalibrations(cmd.OutOrStdout(), store, coverRefs(store))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <cover> [open|close]",
		Short: "Delete the travel time of a cover direction, or of both directions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			directions := shutter.Directions
			if len(args) == 2 {
				d, err := shutter.ParseDirection(args[1])
				if err != nil {
					return err
				}
				directions = []shutter.Direction{d}
			}

			store, err := storeFromConfig()
			if err != nil {
				return err
			}
			for _, d := range directions {
				if err := store.Delete(args[0], d); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s calibration of %s.\n", directionsLabel(directions), args[0])
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <cover> <open|close> <seconds>",
		Short: "Store a manually measured travel time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := shutter.ParseDirection(args[1])
			if err != nil {
				return err
			}
			seconds, err := strconv.Atoi(args[2])
			if err != nil {
				return errors.Wrapf(err, "invalid travel time %q", args[2])
			}

			store, err := storeFromConfig()
			if err != nil {
				return err
			}
			if err := store.Put(args[0], d, calibration.Record{TravelTime: seconds, Source: calibration.SourceManual}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s travel time of %s: %ds.\n", d, args[0], seconds)
			return nil
		},
	}

	cmd.AddCommand(listCmd, deleteCmd, setCmd)

	return cmd
}

// coverRefs returns configured covers followed by covers only present in the store.
func coverRefs(store *calibration.Store) []shutter.Ref {
	seen := map[string]bool{}
	var refs []shutter.Ref
	for _, cfg := range Cfg.Shutters {
		ref := refFromConfig(cfg)
		seen[ref.ID] = true
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	for _, id := range store.Covers() {
		if !seen[id] {
			refs = append(refs, shutter.Ref{ID: id})
		}
	}

	return refs
}

func directionsLabel(directions []shutter.Direction) string {
	if len(directions) == 1 {
		return string(directions[0])
	}

	return "open and close"
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func calibratedMark(ok bool) string {
	if ok {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}

	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func printCalibrations(w io.Writer, store *calibration.Store, refs []shutter.Ref) {
	if len(refs) == 0 {
		fmt.Fprintln(w, "No covers configured or calibrated.")
		return
	}

	for _, ref := range refs {
		summary := store.Summary(ref.ID)
		fmt.Fprintf(w, "%s %s\n", calibratedMark(summary.IsFullyCalibrated), bold("%s", ref))

		for _, d := range shutter.Directions {
			r, ok := store.Get(ref.ID, d)
			if !ok {
				fmt.Fprintf(w, "  %-6s %s\n", d, color.YellowString("%ds (default)", int(store.TravelTime(ref.ID, d).Seconds())))
				continue
			}

			fmt.Fprintf(w, "  %-6s %ds (%s, %s)\n", d, r.TravelTime, r.Source, r.LastUpdated.Format("2006-01-02 15:04"))
		}
	}
}
