package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/service"
	"github.com/spf13/cobra"
)

var (
	ownerFlag  string
	emailFlag  string
	formatFlag string
)

func addOwnerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner id the domain belongs to")
	cmd.Flags().StringVar(&emailFlag, "email", "", "owner contact email")
	_ = cmd.MarkFlagRequired("owner")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// userError prints the actionable detail of a tagged error.
func userError(err error) error {
	var tagged *certerr.Error
	if errors.As(err, &tagged) {
		return fmt.Errorf("%s: %s", tagged.Kind, tagged.Detail)
	}
	return err
}

// ── delegate ─────────────────────────────────────────────────────────────────

var delegateCmd = &cobra.Command{
	Use:   "delegate <domain>",
	Short: "Allocate (or show) the CNAME target for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.delegations.Delegate(ctx, ownerFlag, emailFlag, args[0])
			if err != nil {
				return userError(err)
			}
			if formatFlag == "json" {
				return printJSON(res)
			}
			if res.Created {
				fmt.Println("Delegation created. Add this DNS record to your domain:")
			} else {
				fmt.Println("Domain already delegated. The record is unchanged:")
			}
			fmt.Printf("  Host:   %s\n", res.ChallengeName)
			fmt.Printf("  Type:   CNAME\n")
			fmt.Printf("  Target: %s\n\n", res.Target)
			fmt.Printf("To also cover www.%s, point %s at the same target.\n\n", res.Domain, res.WWWChallengeName)
			fmt.Printf("When published, run:\n  sslgen issue --owner %s %s\n", ownerFlag, res.Domain)
			return nil
		})
	},
}

// ── issue ────────────────────────────────────────────────────────────────────

var (
	issueWildcard   bool
	issueIncludeWWW bool
	issueCA         string
)

var issueCmd = &cobra.Command{
	Use:   "issue <domain>",
	Short: "Run one issuance attempt for a delegated domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Printf("Issuing certificate for %s...\n", args[0])
			view, err := a.certs.Issue(ctx, ownerFlag, args[0], service.IssueOptions{
				Email:      emailFlag,
				Wildcard:   issueWildcard,
				IncludeWWW: issueIncludeWWW,
				CA:         issueCA,
			})
			if err != nil {
				return userError(err)
			}
			if formatFlag == "json" {
				return printJSON(view)
			}
			fmt.Printf("✓ %s is %s, expires %s\n", view.Domain, view.Status, view.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status [domain]",
	Short: "Show the presented status of one or all of an owner's certificates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var views []*service.CertificateView
			if len(args) == 1 {
				v, err := a.certs.Get(ctx, ownerFlag, args[0])
				if err != nil {
					return userError(err)
				}
				views = append(views, v)
			} else {
				var err error
				if views, err = a.certs.List(ctx, ownerFlag, ""); err != nil {
					return err
				}
			}
			if formatFlag == "json" {
				return printJSON(views)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tSTATUS\tEXPIRES\tDAYS LEFT\tCNAME TARGET")
			for _, v := range views {
				expires := "-"
				if v.ExpiresAt != nil {
					expires = v.ExpiresAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", v.Domain, v.Status, expires, v.DaysLeft, v.Target)
			}
			return w.Flush()
		})
	},
}

// ── renewals ─────────────────────────────────────────────────────────────────

var renewalsWithin time.Duration

var renewalsCmd = &cobra.Command{
	Use:   "renewals",
	Short: "List issued certificates expiring within a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			within := renewalsWithin
			if within == 0 {
				within = a.cfg.Certificate.ExpiryThreshold
			}
			certs, err := a.certs.DueForRenewal(ctx, within)
			if err != nil {
				return err
			}
			if formatFlag == "json" {
				return printJSON(certs)
			}
			printRenewals(certs, time.Now())
			return nil
		})
	},
}

func printRenewals(certs []*model.Certificate, now time.Time) {
	if len(certs) == 0 {
		fmt.Println("nothing due for renewal")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tOWNER\tEXPIRES\tDAYS LEFT")
	for _, c := range certs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Domain, c.OwnerID, c.ExpiresAt.Format("2006-01-02"), c.DaysLeft(now))
	}
	w.Flush() //nolint:errcheck
}

// ── remind ───────────────────────────────────────────────────────────────────

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send expiry reminder emails now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.reminder.Run(ctx)
			if err != nil {
				return err
			}
			if formatFlag == "json" {
				return printJSON(report)
			}
			fmt.Printf("sent %d reminder(s)\n", report.Sent)
			for _, e := range report.Errors {
				fmt.Printf("  failed %s: %s\n", e.Email, e.Error)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "text", "output format: text or json")

	addOwnerFlags(delegateCmd)
	addOwnerFlags(issueCmd)
	addOwnerFlags(statusCmd)

	issueCmd.Flags().BoolVar(&issueWildcard, "wildcard", false, "request *.domain plus the apex")
	issueCmd.Flags().BoolVar(&issueIncludeWWW, "www", false, "include www.domain")
	issueCmd.Flags().StringVar(&issueCA, "ca", "", "CA profile (letsencrypt, letsencrypt-staging, zerossl)")

	renewalsCmd.Flags().DurationVar(&renewalsWithin, "within", 0, "window to look ahead (default certificate.expiry_threshold)")
}
