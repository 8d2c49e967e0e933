package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by client commands.
type GlobalFlags struct {
	APIUrl string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "gatekeep",
		Short: "Gateway process supervisor",
		Long:  "gatekeep supervises a message-gateway process: lifecycle, monitoring, webhook reconciliation and connectivity-mode coordination.",
	}
	root.PersistentFlags().StringVar(&gf.APIUrl, "api-url", "http://127.0.0.1:8710/api", "base URL of the gatekeep daemon API")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd(gf))
	root.AddCommand(newStartCmd(gf))
	root.AddCommand(newStopCmd(gf))
	root.AddCommand(newRestartCmd(gf))
	root.AddCommand(newLogsCmd(gf))
	root.AddCommand(newModeCmd(gf))
	root.AddCommand(newWebhookCmd(gf))
	return root
}
