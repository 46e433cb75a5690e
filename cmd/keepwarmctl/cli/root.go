// Package cli implements keepwarmctl, the operator client for the keepwarm
// control API.
package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type rootOptions struct {
	apiURL  string
	token   string
	timeout time.Duration
	json    bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "keepwarmctl",
		Short:         "Operate the keepwarm scheduler",
		Long:          "Command line client for the keepwarm control API. KEEPWARM_URL and KEEPWARM_TOKEN provide defaults for --url and --token.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "url", envOr("KEEPWARM_URL", defaultAPIURL), "control API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("KEEPWARM_TOKEN"), "operator bearer token")
	// start waits for a full probe, retries included
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON instead of tables")

	root.AddCommand(
		statusCmd(opts),
		addCmd(opts),
		startCmd(opts),
		stopCmd(opts),
		removeCmd(opts),
		tickCmd(opts),
		catalogCmd(opts),
		tokenCmd(),
	)
	return root
}

func (o *rootOptions) client() *client {
	return newClient(o.apiURL, o.token, o.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
