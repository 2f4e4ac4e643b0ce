package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "device-sim",
	Short: "Simulated ESP32 traffic-light controller",
	Long:  "device-sim posts synthetic telemetry to the traffic controller and\napplies the commands it gets back.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the available traffic scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		for _, sc := range listScenarios() {
			fmt.Fprintf(out, "%-12s %s\n", sc, scenarioHelp[sc])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenariosCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
