package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/app"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

func newQueryCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect widget queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		as   string
		form   dashboard.FilterForm
		run    bool
		asJSON bool
	)
	preview := &cobra.Command{
		Use:   "preview PAGE WIDGET",
		Short: "Print the query a widget runs for an identity",
		Long: `Print the SQL and bound parameters a widget runs for an identity, scoped
exactly as the dashboard would scope it. With --run the query is executed
against the configured warehouse and the result printed as a table. --json
runs the query and prints only the typed result as JSON.

Examples:
  mindctl query preview Faculty at_risk --as faculty@mind.edu --threshold 55
  mindctl query preview Student standing --as student@mind.edu --run
  mindctl query preview Developer latency_routes --as dev@mind.edu --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, widgetID := args[0], args[1]
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			insights, err := app.BuildInsights(cfg, commandLogger(cmd), nil, nil)
			if err != nil {
				return err
			}
			defer insights.Close()

			ident, ok := insights.Identities.Get(as)
			if !ok {
				return fmt.Errorf("unknown identity %q", as)
			}
			pageCfg, err := insights.Pages.PageConfig(ident, page)
			if err != nil {
				return err
			}
			if !slices.Contains(pageCfg.WidgetIDs(), widgetID) {
				return fmt.Errorf("widget %q is not on page %s: %w", widgetID, page, shared.ErrNotFound)
			}
			if err := form.Validate(validator.New()); err != nil {
				return err
			}
			filters := form.Filters(time.Now())
			scope, previewed, err := insights.Pages.Scope(cmd.Context(), ident, page, filters)
			if err != nil {
				return err
			}
			widget := dashboard.DefaultCatalog()[widgetID]
			q, err := widget.Build(insights.Analytics.Builder(), scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printTyped(cmd, insights.Analytics, widget, scope, q)
			}
			if previewed {
				fmt.Fprintln(out, "-- preview learner substituted")
			}
			printQuery(out, q)
			if !run {
				return nil
			}
			res, err := insights.Analytics.Run(cmd.Context(), widget, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n-- status: %s (%s)\n", res.Status, res.Elapsed.Round(time.Millisecond))
			if res.Status != analytics.StatusOK {
				if res.Message != "" {
					fmt.Fprintf(out, "-- %s\n", res.Message)
				}
				if res.Status == analytics.StatusError {
					return errors.New("query failed")
				}
				return nil
			}
			return printResult(out, res.Result)
		},
	}
	preview.Flags().StringVar(&as, "as", "", "identity key to scope the query to")
	preview.Flags().StringVar(&form.Range, "range", "", "time window (24h, 7d, 30d, 90d, all)")
	preview.Flags().StringVar(&form.Department, "department", "", "department filter")
	preview.Flags().StringVar(&form.Cohort, "cohort", "", "cohort filter")
	preview.Flags().StringVar(&form.Learner, "learner", "", "learner id")
	preview.Flags().StringVar(&form.Search, "search", "", "roster search")
	preview.Flags().StringVar(&form.Threshold, "threshold", "", "at-risk threshold")
	preview.Flags().StringVar(&form.TraceID, "trace", "", "trace id")
	preview.Flags().BoolVar(&run, "run", false, "execute the query")
	preview.Flags().BoolVar(&asJSON, "json", false, "execute the query and print the typed result as JSON")
	_ = preview.MarkFlagRequired("as")

	cmd.AddCommand(preview)
	return cmd
}

// printTyped runs the widget and writes its result mapped onto the typed
// model of its query.
func printTyped(cmd *cobra.Command, svc *analytics.Service, widget analytics.Widget, scope query.Scope, q warehouse.Query) error {
	res, err := svc.Run(cmd.Context(), widget, scope)
	if err != nil {
		return err
	}
	switch res.Status {
	case analytics.StatusError:
		return fmt.Errorf("query failed: %s", res.Message)
	case analytics.StatusDenied:
		return fmt.Errorf("%s: %w", q.Name, shared.ErrAccessDenied)
	}
	typed, err := analytics.Typed(q.Name, res.Result)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(typed)
}

func printQuery(w io.Writer, q warehouse.Query) {
	fmt.Fprintf(w, "-- %s\n%s\n", q.Name, q.SQL)
	if len(q.Params) == 0 {
		return
	}
	fmt.Fprintln(w, "-- params")
	for _, p := range q.Params {
		fmt.Fprintf(w, "--   @%s %s = %v\n", p.Name, p.Type, p.Value)
	}
}

func printResult(w io.Writer, res warehouse.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, col := range res.Columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, col)
	}
	fmt.Fprintln(tw)
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, analytics.Cell(row, col))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	return nil
}
