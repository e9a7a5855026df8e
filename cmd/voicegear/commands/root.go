package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the build.
var version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voicegear",
	Short: "Voice appliance data plane",
	Long: `voicegear runs the voice appliance's data plane on a development host.

It wires the audio pipeline, conversation state machine, and session
transport together with simulated capture hardware, so the whole plane can
be exercised and observed without the appliance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlane(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("voicegear", version)
	},
}
