package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxhook application
var rootCmd = &cobra.Command{
	Use:   "inboxhook",
	Short: "Signs users in with Microsoft and watches their mailbox for new mail",
	Long: `inboxhook signs users in against the Microsoft identity platform, keeps
their tokens fresh and subscribes to Microsoft Graph change notifications for
their mailbox. New messages are fetched as soon as Graph reports them.

Configuration is read from a .env file, the environment and flags.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxhook version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
