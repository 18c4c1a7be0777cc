package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrizbee/whistledetector/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Long:  `Lists the capture devices with the index to use for device_index or --device.`,
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, _ []string) error {
	capture := audio.New(audio.DefaultConfig())
	defer capture.Close()

	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}

	devices, err := capture.ListDevices()
	if err != nil {
		return fmt.Errorf("audio devices: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No capture devices found")
		return nil
	}
	for i, d := range devices {
		marker := ""
		if d.IsDefault != 0 {
			marker = " (default)"
		}
		fmt.Fprintf(out, "[%d] %s%s\n", i, d.Name(), marker)
	}
	return nil
}
