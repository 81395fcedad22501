package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/infra/sched"
)

const timeLayout = "2006-01-02 15:04:05"

// run opens a session for the command and closes it afterwards.
func run(o *options, cmd *cobra.Command, fn func(ctx context.Context, s *session, out io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s, cmd.OutOrStdout())
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func migrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				if err := s.backend.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "migrations applied (%s)\n", s.backend.Driver)
				return nil
			})
		},
	}
}

func balanceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user_id>",
		Short: "Show a user's credits, membership and free usages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				p, err := s.svc.Ledger.Profile(ctx, userID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "user\t%d\n", p.UserID)
				fmt.Fprintf(w, "credits\t%d\n", p.Credits)
				fmt.Fprintf(w, "membership\t%s (stored %s)\n", p.EffectiveTier(time.Now()), p.MembershipTier)
				fmt.Fprintf(w, "expires\t%s\n", fmtTime(p.MembershipExpiresAt))
				fmt.Fprintf(w, "free usages\t%d / %d\n", p.FreeModel1Usages, p.FreeModel2Usages)
				return w.Flush()
			})
		},
	}
}

func historyCmd(o *options) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "history <user_id>",
		Short: "List a user's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				page, err := s.svc.Ledger.History(ctx, userID, offset, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tAMOUNT\tBALANCE\tSOURCE\tSOURCE_ID\tCREATED")
				for _, e := range page.Items {
					src := "-"
					if e.SourceID != nil {
						src = strconv.FormatInt(*e.SourceID, 10)
					}
					fmt.Fprintf(w, "%d\t%+d\t%d\t%s\t%s\t%s\n", e.ID, e.Amount, e.BalanceAfter, e.Source, src, fmtTime(&e.CreatedAt))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d of %d entries\n", len(page.Items), page.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	return cmd
}

func reconcileCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user_id>",
		Short: "Check that the stored balance matches the ledger",
		Long:  "Exits non-zero when the profile balance differs from the ledger sum or the latest balance_after.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				r, err := s.svc.Ledger.Reconcile(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "user %d: profile=%d ledger_sum=%d last_balance=%d entries=%d\n",
					r.UserID, r.ProfileBalance, r.LedgerSum, r.LastBalance, r.Entries)
				if !r.OK() {
					return fmt.Errorf("ledger out of balance for user %d", userID)
				}
				fmt.Fprintln(out, "ok")
				return nil
			})
		},
	}
}

func adjustCmd(o *options) *cobra.Command {
	var (
		adminID      int64
		credits      int64
		tier         string
		days         int
		expires      string
		free1, free2 int
	)
	cmd := &cobra.Command{
		Use:   "adjust <user_id>",
		Short: "Set a user's assets; only the given flags are changed",
		Example: `  ledgerctl adjust 42 --admin 1 --credits 500
  ledgerctl adjust 42 --admin 1 --tier professional --days 30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			u := model.AssetUpdate{AdminID: adminID, UserID: userID, UserAgent: "ledgerctl/" + Version}
			f := cmd.Flags()
			if f.Changed("credits") {
				u.Credits = &credits
			}
			if f.Changed("tier") {
				t, ok := model.ParseTier(tier)
				if !ok {
					return fmt.Errorf("unknown tier %q", tier)
				}
				u.MembershipTier = &t
			}
			switch {
			case f.Changed("days") && f.Changed("expires"):
				return fmt.Errorf("--days and --expires are mutually exclusive")
			case f.Changed("days"):
				at := time.Now().AddDate(0, 0, days)
				u.MembershipExpiresAt = &at
			case f.Changed("expires"):
				at, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("--expires: %w", err)
				}
				u.MembershipExpiresAt = &at
			}
			if f.Changed("free1") {
				u.FreeModel1Usages = &free1
			}
			if f.Changed("free2") {
				u.FreeModel2Usages = &free2
			}
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				p, err := s.svc.Ledger.AdminAdjust(ctx, u)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "user %d: credits=%d membership=%s expires=%s free=%d/%d\n",
					p.UserID, p.Credits, p.MembershipTier, fmtTime(p.MembershipExpiresAt), p.FreeModel1Usages, p.FreeModel2Usages)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&adminID, "admin", 0, "id of the administrator making the change (required)")
	cmd.Flags().Int64Var(&credits, "credits", 0, "new credit balance")
	cmd.Flags().StringVar(&tier, "tier", "", "membership tier: none|advanced|professional")
	cmd.Flags().IntVar(&days, "days", 0, "membership expires this many days from now")
	cmd.Flags().StringVar(&expires, "expires", "", "membership expiry, RFC3339")
	cmd.Flags().IntVar(&free1, "free1", 0, "free model 1 usages")
	cmd.Flags().IntVar(&free2, "free2", 0, "free model 2 usages")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func ordersCmd(o *options) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "orders <user_id>",
		Short: "List a user's payment orders, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				items, total, err := s.svc.Orders.ListByUser(ctx, userID, offset, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tOUT_TRADE_NO\tNAME\tAMOUNT\tSTATUS\tCREATED\tCOMPLETED")
				for _, ord := range items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", ord.ID, ord.MerchantOrderNo, ord.Name,
						ord.AmountString(), ord.Status, fmtTime(&ord.CreatedAt), fmtTime(ord.CompletedAt))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d of %d orders\n", len(items), total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "orders to skip")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum orders")
	return cmd
}

func sweepCmd(o *options) *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close Pending orders older than the stale threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				after := s.cfg.Orders.SweepStaleAfter
				if cmd.Flags().Changed("stale-after") {
					after = staleAfter
				}
				n, err := sched.NewOrderSweeper(s.svc.Orders, nil, 0, after, s.log).SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "closed %d stale orders\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override orders.sweep_stale_after")
	return cmd
}

func statsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise payment orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(o, cmd, func(ctx context.Context, s *session, out io.Writer) error {
				st, err := s.svc.Orders.Stats(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "total\t%d\n", st.Total)
				fmt.Fprintf(w, "pending\t%d\n", st.Pending)
				fmt.Fprintf(w, "success\t%d\n", st.Success)
				fmt.Fprintf(w, "closed\t%d\n", st.Closed)
				fmt.Fprintf(w, "revenue\t%s\n", st.TotalAmount.StringFixed(2))
				return w.Flush()
			})
		},
	}
}
