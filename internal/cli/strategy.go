package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var strategyHeaders = []string{"ID", "NAME", "STATUS", "USER", "CREATED"}

func strategyRow(s StrategyResponse) []string {
	return []string{s.ID, s.Name, s.Status, s.UserID, s.CreatedAt}
}

// NewStrategyCmd создаёт группу команд для управления стратегиями.
func NewStrategyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Manage strategies",
	}

	cmd.AddCommand(
		newStrategyCreateCmd(clientFn, outputFn),
		newStrategyListCmd(clientFn, outputFn),
		newStrategyShowCmd(clientFn, outputFn),
		newStrategyStatusCmd(clientFn, outputFn),
		newStrategyEventsCmd(clientFn, outputFn),
		newStrategyMetricsCmd(clientFn, outputFn),
		newStrategyRequestCmd(clientFn, outputFn),
		newStrategyUpdateCmd(clientFn, outputFn),
		newStrategyDeleteCmd(clientFn, outputFn),
		newStrategyValidateCmd(clientFn, outputFn),
	)

	return cmd
}

func newStrategyCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateStrategyRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a strategy and request its validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			st, err := client.CreateStrategy(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Strategy created: %s", st.ID))
			if st.Requested != nil && !*st.Requested {
				out.Error("strategy.requested was not published; it will be resubmitted")
			}
			out.Print(strategyHeaders, [][]string{strategyRow(*st)}, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user-id", "", "Owner user ID, UUID (required)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Strategy name (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Strategy description")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newStrategyListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListStrategiesOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			list, err := client.ListStrategies(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(list))
			for i, s := range list {
				rows[i] = strategyRow(s)
			}

			out.Print(strategyHeaders, rows, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "Owner user ID (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "Max strategies")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Offset")
	cmd.MarkFlagRequired("user-id")

	return cmd
}

func newStrategyShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show strategy details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			st, err := client.GetStrategy(args[0])
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"ID", st.ID},
				{"Name", st.Name},
				{"Description", st.Description},
				{"Status", st.Status},
				{"User", st.UserID},
				{"Created", st.CreatedAt},
				{"Updated", st.UpdatedAt},
			}, st)
			return nil
		},
	}
}

func newStrategyStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show strategy status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			st, err := client.GetStatus(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "STATUS", "UPDATED"},
				[][]string{{st.StrategyID, st.Status, st.UpdatedAt}},
				st,
			)
			return nil
		},
	}
}

func newStrategyEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events ID",
		Short: "Show strategy audit log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.ListEvents(args[0], limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(logs))
			for i, l := range logs {
				rows[i] = []string{l.Timestamp, l.EventType, compactJSON(l.Payload)}
			}

			out.Print([]string{"TIMESTAMP", "EVENT", "PAYLOAD"}, rows, logs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Max records")

	return cmd
}

func newStrategyMetricsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics ID",
		Short: "Show latest backtest and recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			m, err := client.GetMetrics(args[0])
			if err != nil {
				return err
			}

			fields := [][2]string{
				{"ID", m.StrategyID},
				{"Name", m.Name},
				{"Status", m.Status},
				{"Updated", m.UpdatedAt},
			}
			if m.LatestBacktest == nil {
				fields = append(fields, [2]string{"Backtest", "-"})
			} else {
				fields = append(fields, [2]string{"Tested", m.LatestBacktest.TestedAt})
				keys := make([]string, 0, len(m.LatestBacktest.PerformanceMetrics))
				for k := range m.LatestBacktest.PerformanceMetrics {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fields = append(fields, [2]string{"  " + k, compactJSON(m.LatestBacktest.PerformanceMetrics[k])})
				}
			}
			fields = append(fields, [2]string{"Recent events", strconv.Itoa(len(m.RecentEvents))})
			for _, e := range m.RecentEvents {
				fields = append(fields, [2]string{"  " + e.Timestamp, e.EventType})
			}

			out.Details(fields, m)
			return nil
		},
	}
}

func newStrategyRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "request ID",
		Short: "Publish strategy.requested again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			r, err := client.RequestValidation(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Validation requested: %s", r.StrategyID))
			return nil
		},
	}
}

func newStrategyUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, description, status string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update strategy fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req UpdateStrategyRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("status") {
				req.Status = &status
			}
			if req.Name == nil && req.Description == nil && req.Status == nil {
				return fmt.Errorf("nothing to update: set --name, --description or --status")
			}

			client := clientFn()
			out := outputFn()

			st, err := client.UpdateStrategy(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Strategy updated: %s", st.ID))
			out.Print(strategyHeaders, [][]string{strategyRow(*st)}, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description, empty clears it")
	cmd.Flags().StringVar(&status, "status", "", "New status")

	return cmd
}

func newStrategyDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a strategy with its backtest results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteStrategy(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Strategy deleted: %s", args[0]))
			return nil
		},
	}
}

func newStrategyValidateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateStrategyRequest

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check strategy input without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			r, err := client.ValidateStrategy(req)
			if err != nil {
				return err
			}

			rows := make([][]string, len(r.ValidationErrors))
			for i, problem := range r.ValidationErrors {
				rows[i] = []string{problem}
			}

			if r.IsValid {
				out.Success("Strategy input is valid")
			} else {
				out.Error(fmt.Sprintf("%d validation error(s)", len(r.ValidationErrors)))
			}
			out.Print([]string{"PROBLEM"}, rows, r)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user-id", "", "Owner user ID, UUID")
	cmd.Flags().StringVar(&req.Name, "name", "", "Strategy name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Strategy description")

	return cmd
}
