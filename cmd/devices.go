// Package cmd provides auxiliary CLI commands.
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vcamlab/camswitch/internal/devices"
)

// CreateDevicesCmd creates the devices command, which lists V4L2 devices
// and their routing roles.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available V4L2 video devices",
		Long:  `Lists every V4L2 device node with its name, driver, and whether it can serve as a capture source or virtual output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			detector := devices.NewDetector()
			found, err := detector.List()
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			if len(found) == 0 {
				fmt.Println("No V4L2 devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME\tDRIVER\tCAPTURE\tOUTPUT")
			for _, dev := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n",
					dev.DevicePath, dev.DeviceName, dev.Driver, dev.Capture, dev.Output)
			}
			return w.Flush()
		},
	}
}
