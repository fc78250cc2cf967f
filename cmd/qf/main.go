package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/digest"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/export"
	"quoteflow/internal/migrate"
	"quoteflow/internal/notify"
	"quoteflow/internal/repo"
	"quoteflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "qf",
	Short: "Quoteflow CLI",
	Long: `Quoteflow brokers client service requests to a developer pool.
Clients submit a request (category, title, budget, deadline); developers
claim it; an administrator picks the lead and optional helpers with revenue
shares; when the work is confirmed, the owner runs the payout wizard and
every amount lands in the append-only earnings ledger, commission included.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUOTEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(earningsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Manage service requests",
		Long:  "Requests flow new -> in_progress -> completed_pending -> completed_confirmed; canceled is the other exit. Only the payout wizard confirms completion.",
	}
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestActiveCmd())
	req.AddCommand(requestGetCmd())
	req.AddCommand(requestClaimCmd())
	req.AddCommand(requestClaimsCmd())
	req.AddCommand(requestAssignLeadCmd())
	req.AddCommand(requestAddHelperCmd())
	req.AddCommand(requestSetStatusCmd())
	req.AddCommand(requestCommentCmd())
	req.AddCommand(requestProgressCmd())
	return req
}

func requestSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SubmitterID == "" {
				opts.SubmitterID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Submit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SubmitterID, "submitter-id", "", "submitter id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.SubmitterName, "submitter-name", "", "submitter display name")
	cmd.Flags().StringVar(&opts.SubmitterHandle, "submitter-handle", "", "submitter handle")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category key from the catalog")
	cmd.Flags().StringVar(&opts.Title, "title", "", "short title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what needs to be built")
	cmd.Flags().StringVar(&opts.BudgetRaw, "budget", "", `budget, free text (e.g. "1500 MDL", "300eur")`)
	cmd.Flags().StringVar(&opts.DeadlineRaw, "deadline", "", `deadline, free text (e.g. "10 days", "2025-06-01")`)
	cmd.Flags().StringVar(&opts.Contact, "contact", "", "how to reach the submitter")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("contact")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRequests(ctx, status)
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func requestActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List non-terminal requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printRequests(e.ActiveRequests(ctx))
			})
		},
	}
	return cmd
}

func requestGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func requestClaimCmd() *cobra.Command {
	var handle, name string
	cmd := &cobra.Command{
		Use:   "claim <request-id>",
		Short: "Claim a request as a developer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Claim(ctx, args[0], viper.GetString("actor-id"), handle, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "developer handle")
	cmd.Flags().StringVar(&name, "name", "", "developer display name")
	return cmd
}

func requestClaimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims <request-id>",
		Short: "List claims on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Claims(args[0]))
			})
		},
	}
	return cmd
}

func requestAssignLeadCmd() *cobra.Command {
	var devID, eta string
	cmd := &cobra.Command{
		Use:   "assign-lead <request-id>",
		Short: "Assign the lead developer at 100%",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if devID == "" {
				return fmt.Errorf("--dev required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AssignLead(ctx, args[0], devID, eta, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&devID, "dev", "", "developer id (must have claimed)")
	cmd.Flags().StringVar(&eta, "eta", "", "estimated delivery, free text")
	return cmd
}

func requestAddHelperCmd() *cobra.Command {
	var devID string
	var pct int
	cmd := &cobra.Command{
		Use:   "add-helper <request-id>",
		Short: "Add a helper with a revenue share",
		Long:  "The requested percentage is clamped so all shares never exceed 100.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if devID == "" {
				return fmt.Errorf("--dev required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AddHelper(ctx, args[0], devID, pct, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&devID, "dev", "", "developer id (must have claimed)")
	cmd.Flags().IntVar(&pct, "pct", 0, "requested percentage share")
	return cmd
}

func requestSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <request-id>",
		Short: "Override the request status",
		Long:  "Allowed targets: new, in_progress, completed_pending, canceled. completed_confirmed is reachable only through the payout wizard.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.SetStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	return cmd
}

func requestCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <request-id>",
		Short: "Append a timestamped note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Comment(ctx, args[0], viper.GetString("actor-id"), text)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	return cmd
}

func requestProgressCmd() *cobra.Command {
	var pct int
	cmd := &cobra.Command{
		Use:   "progress <request-id>",
		Short: "Report progress as an assigned developer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Progress(ctx, args[0], viper.GetString("actor-id"), pct)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().IntVar(&pct, "pct", 0, "progress percentage")
	return cmd
}

func payoutCmd() *cobra.Command {
	payout := &cobra.Command{
		Use:   "payout",
		Short: "Owner payout wizard",
		Long:  "Start walks the lead first, then each helper; confirm records one amount per step. The final confirm writes the ledger rows, adds the commission, and closes the request.",
	}
	payout.AddCommand(payoutStartCmd())
	payout.AddCommand(payoutConfirmCmd())
	payout.AddCommand(payoutCancelCmd())
	payout.AddCommand(payoutStatusCmd())
	return payout
}

func payoutStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <request-id>",
		Short: "Start the payout wizard for a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartPayout(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func payoutConfirmCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the current step",
		Long:  "Without --amount the suggested split for the step is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("amount") {
					s, ok := e.PayoutSession(actorID)
					if !ok || s.Done() {
						return fmt.Errorf("no payout session for %s", actorID)
					}
					amount = s.Steps[s.Cursor].Suggested
				}
				s, err := e.ConfirmPayout(ctx, actorID, amount)
				if err != nil {
					return err
				}
				if s.Done() {
					fmt.Println("Payout complete, request closed.")
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "override amount for the current step")
	return cmd
}

func payoutCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the payout wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.CancelPayout(viper.GetString("actor-id")) {
					return fmt.Errorf("no payout session")
				}
				fmt.Println("Payout canceled, request stays pending.")
				return nil
			})
		},
	}
	return cmd
}

func payoutStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live payout session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, ok := e.PayoutSession(viper.GetString("actor-id"))
				if !ok {
					return fmt.Errorf("no payout session")
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func earningsCmd() *cobra.Command {
	earnings := &cobra.Command{
		Use:   "earnings",
		Short: "Earnings ledger views",
	}
	earnings.AddCommand(earningsDevCmd())
	earnings.AddCommand(earningsAdminCmd())
	return earnings
}

func earningsDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev [dev-id]",
		Short: "Developer summary: active work and confirmed totals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devID := viper.GetString("actor-id")
			if len(args) == 1 {
				devID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.SummarizeDeveloper(ctx, devID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("Developer: %s\n", sum.DevID)
				fmt.Printf("Active requests: %d\n", len(sum.Active))
				for _, r := range sum.Active {
					fmt.Printf("  %s  %-20s %s\n", r.ID, r.Status, r.Title)
				}
				if len(sum.Confirmed) == 0 {
					fmt.Println("Confirmed: nothing yet")
					return nil
				}
				currencies := make([]string, 0, len(sum.Confirmed))
				for cur := range sum.Confirmed {
					currencies = append(currencies, cur)
				}
				sort.Strings(currencies)
				for _, cur := range currencies {
					t := sum.Confirmed[cur]
					fmt.Printf("Confirmed: %.2f %s over %d payment(s)\n", t.Amount, cur, t.Count)
				}
				return nil
			})
		},
	}
	return cmd
}

func earningsAdminCmd() *cobra.Command {
	var windowDays int
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Commission totals (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				totals, err := e.AdminFunds(ctx, viper.GetString("actor-id"), windowDays)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(totals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Currency", "Commission", "Payments"})
				currencies := make([]string, 0, len(totals))
				for cur := range totals {
					currencies = append(currencies, cur)
				}
				sort.Strings(currencies)
				for _, cur := range currencies {
					t := totals[cur]
					tw.AppendRow(table.Row{cur, fmt.Sprintf("%.2f", t.Amount), t.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "restrict to the last N days (0 = all time)")
	return cmd
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "export",
		Short: "CSV exports",
	}
	exp.AddCommand(exportRequestsCmd())
	exp.AddCommand(exportEarningsCmd())
	return exp
}

func exportRequestsCmd() *cobra.Command {
	var month, out string
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Export requests as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Request
					err   error
				)
				if month != "" {
					from, to, berr := export.MonthBounds(month)
					if berr != nil {
						return berr
					}
					items, err = e.Repo.ListRequestsCreatedBetween(ctx, from, to)
				} else {
					items, err = e.ListRequests(ctx, "")
				}
				if err != nil {
					return err
				}
				w, closeFn, err := outputWriter(out)
				if err != nil {
					return err
				}
				defer closeFn()
				return export.RequestsCSV(w, items)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "restrict to a month (YYYY-MM)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func exportEarningsCmd() *cobra.Command {
	var month, out, payee string
	cmd := &cobra.Command{
		Use:   "earnings",
		Short: "Export the earnings ledger as CSV",
		Long:  "Use --payee ADMIN for the commission-only export.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Ledger.List(ctx, payee)
				if err != nil {
					return err
				}
				if month != "" {
					from, to, berr := export.MonthBounds(month)
					if berr != nil {
						return berr
					}
					filtered := rows[:0]
					for _, row := range rows {
						if row.TS >= from && row.TS < to {
							filtered = append(filtered, row)
						}
					}
					rows = filtered
				}
				w, closeFn, err := outputWriter(out)
				if err != nil {
					return err
				}
				defer closeFn()
				return export.EarningsCSV(w, rows)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "restrict to a month (YYYY-MM)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().StringVar(&payee, "payee", "", "restrict to one payee id")
	return cmd
}

func digestCmd() *cobra.Command {
	dig := &cobra.Command{
		Use:   "digest",
		Short: "Weekly developer digest",
	}
	dig.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Send the digest now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return digest.New(e).Run(ctx)
			})
		},
	})
	return dig
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var requestID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if requestID != "" {
					events, err := e.Repo.ListEvents(ctx, requestID, n)
					if err != nil {
						return err
					}
					return printJSONOrTable(events)
				}
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				after := latest - int64(n)
				if after < 0 {
					after = 0
				}
				events, err := e.Repo.EventsAfter(ctx, n, after)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&requestID, "request", "", "filter by request id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var brokerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default quoteflow.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(brokerID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&brokerID, "broker-id", "quoteflow", "broker identifier")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a config file and install it as quoteflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			dest := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Imported %s to %s\n", file, dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the config file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the secret once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
				key := repo.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("quoteflow")
			}
			e := engine.New(conn, cfg)
			if cfg.Notify.URL != "" {
				e.Notifier = notify.WebhookNotifier{URL: cfg.Notify.URL, Secret: cfg.Notify.Secret}
			}
			if n, err := e.Load(cmd.Context()); err != nil {
				return err
			} else if n > 0 {
				fmt.Printf("Loaded %d request(s) from the log\n", n)
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("QUOTEFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("QUOTEFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			sched := digest.New(e)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Quoteflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("quoteflow")
	}
	e := engine.New(conn, cfg)
	if cfg.Notify.URL != "" {
		e.Notifier = notify.WebhookNotifier{URL: cfg.Notify.URL, Secret: cfg.Notify.Secret}
	}
	if _, err := e.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printRequests(items []domain.Request) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Category", "Title", "Budget", "Deadline", "Assignees"})
	for _, r := range items {
		budget := r.BudgetRaw
		deadline := r.DeadlineRaw
		if r.DeadlineISO != nil {
			deadline = *r.DeadlineISO
		}
		tw.AppendRow(table.Row{r.ID, r.Status, r.Category, r.Title, budget, deadline, strings.Join(r.Assignees(), ",")})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func outputWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
