package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vcamlab/camswitch/internal/devices"
)

// CreateProbeCmd creates the probe command, which lists the capture
// formats a device supports.
func CreateProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <device-path>",
		Short: "Probe a capture device for supported formats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector := devices.NewDetector()
			formats, err := detector.Probe(args[0])
			if err != nil {
				return fmt.Errorf("failed to probe %s: %w", args[0], err)
			}

			if len(formats) == 0 {
				fmt.Println("No usable formats reported")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FORMAT\tRESOLUTION\tFPS")
			for _, f := range formats {
				fmt.Fprintf(w, "%s\t%dx%d\t%d\n", f.PixelFormat, f.Width, f.Height, f.FPS)
			}
			return w.Flush()
		},
	}
}
