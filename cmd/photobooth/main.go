package main

import (
	"os"

	"github.com/fpang/photobooth/internal/logging"
	"github.com/spf13/cobra"
)

// CLI flags shared by every command.
var (
	configFlag  string
	envFileFlag string
)

// rootCmd is the main Cobra command for the photobooth binary.
var rootCmd = &cobra.Command{
	Use:   "photobooth",
	Short: "Snap & Go photobooth kiosk",
	Long: `Photobooth runs a self-service photo booth: a guest presses start, three
photos are taken after a countdown, stitched into a branded strip, uploaded,
and handed back as a QR code.

Examples:
  photobooth serve --config booth.yaml
  photobooth stitch --frame classic-vertical -o strip.jpg a.jpg b.jpg c.jpg
  photobooth frames list
  photobooth frames measure artwork.png --id summer-vertical
  photobooth strips show 3f2c9a`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("PHOTOBOOTH_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "dotenv file loaded before the environment (ignored when missing)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
