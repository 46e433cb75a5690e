package cli

import (
	"fmt"
	"net/http"

	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [model-id]",
		Short: "Show schedules and run state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				var m model
				raw, err := c.do(cmd.Context(), http.MethodGet, modelPath(args[0]), nil, &m)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(out, raw)
				}
				renderTable(out, modelHeader, []table.Row{modelRow(m)})
				if m.State.LastError != nil {
					fmt.Fprintf(out, "last error: %s\n", *m.State.LastError)
				}
				return nil
			}

			var list struct {
				Models []model `json:"models"`
			}
			raw, err := c.do(cmd.Context(), http.MethodGet, "/api/models", nil, &list)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(out, raw)
			}
			if len(list.Models) == 0 {
				fmt.Fprintln(out, "no models configured")
				return nil
			}
			rows := make([]table.Row, len(list.Models))
			for i, m := range list.Models {
				rows[i] = modelRow(m)
			}
			renderTable(out, modelHeader, rows)
			return nil
		},
	}
}

func addCmd(opts *rootOptions) *cobra.Command {
	var (
		targetURL string
		from, to  string
		interval  int
		timezone  string
		overnight bool
	)

	cmd := &cobra.Command{
		Use:   "add <model-id>",
		Short: "Add or update a schedule; omitted fields come from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"model_id": args[0]}
			if targetURL != "" {
				body["target_url"] = targetURL
			}
			if from != "" {
				body["from"] = from
			}
			if to != "" {
				body["to"] = to
			}
			if interval > 0 {
				body["interval_minutes"] = interval
			}
			if timezone != "" {
				body["timezone"] = timezone
			}
			if cmd.Flags().Changed("wraps-midnight") {
				body["wraps_midnight"] = overnight
			}

			var m model
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/models", body, &m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, raw)
			}
			renderTable(out, modelHeader, []table.Row{modelRow(m)})
			if !m.Definition.Enabled {
				fmt.Fprintf(out, "run `keepwarmctl start %s` to begin keeping it warm\n", m.Definition.ModelID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&targetURL, "target-url", "", "inference endpoint URL")
	f.StringVar(&from, "from", "", "window start, HH:MM")
	f.StringVar(&to, "to", "", "window end, HH:MM (exclusive)")
	f.IntVar(&interval, "interval", 0, "minutes between probes")
	f.StringVar(&timezone, "tz", "", "IANA timezone of the window")
	f.BoolVar(&overnight, "wraps-midnight", false, "window ends on the next day")
	return cmd
}

func startCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <model-id>",
		Short: "Enable a model and probe it immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply startReply
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, modelPath(args[0], "start"), nil, &reply)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, raw)
			}
			fmt.Fprintf(out, "%s started: %s\n", args[0], describeOutcome(reply.Outcome))
			return nil
		},
	}
}

func stopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <model-id>",
		Short: "Disable a model; an in-flight probe result is discarded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().do(cmd.Context(), http.MethodPost, modelPath(args[0], "stop"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", args[0])
			return nil
		},
	}
}

func removeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <model-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a model and its history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().do(cmd.Context(), http.MethodDelete, modelPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", args[0])
			return nil
		},
	}
}

func tickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s domain.TickSummary
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/tick", nil, &s)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, raw)
			}
			renderTable(out,
				table.Row{"tick", "due", "ok", "failed", "skipped", "discarded", "took"},
				[]table.Row{{s.TickID, s.Due, s.Succeeded, s.Failed, s.Skipped, s.Discarded, s.Duration.String()}},
			)
			return nil
		},
	}
}

func catalogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the models the server knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var c catalog.Catalog
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/catalog", nil, &c)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, raw)
			}
			rows := make([]table.Row, 0, len(c.Models))
			for _, m := range c.Models {
				e := c.Resolve(m.ID)
				rows = append(rows, table.Row{e.ID, e.From + "-" + e.To, e.IntervalMinutes, e.Timezone, e.Description})
			}
			renderTable(out, table.Row{"model", "window", "every", "timezone", "description"}, rows)
			return nil
		},
	}
}
