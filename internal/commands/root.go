package commands

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "parking",
	Short: "Smart parking occupancy backend",
	Long: `parking tracks parking spot occupancy, user parking sessions and simulated
sensor activity, and pushes every change to connected clients in real time.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("parking %s (%s)\n", version, commit)
	},
}

// SetVersion sets the version information
func SetVersion(v, c string) {
	version = v
	commit = c
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createAdminCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}
