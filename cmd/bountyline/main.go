package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/collab"
	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/repo"
	"bountyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bountyline",
	Short: "Bountyline CLI",
	Long: `Bountyline runs bounty-funded grants: a foundation posts a collateralized bounty, teams apply,
committees vote, and approved milestones release funds from the bounty's treasury reservation.
Core concepts:
- Workspace: the .bountyline directory holding the SQLite database and the closed-application archive.
- Bounty: a funding pool with a reserved amount, a claimed amount and review committees.
- Application: a funding request moving submitted -> under review -> awaiting team consent -> live, or closed.
- Milestone: delivered work reviewed by the supervision committee; approval releases its amount.
- Votes, org membership and the treasury are external systems; the workspace keeps local stand-ins.
- Event log: every committed transition, view with 'bountyline log tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/bountyline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting account")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(bountyCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(treasuryCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bountyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if projectID == "" {
				projectID = "bountyline"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// --- bounties ---

func bountyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "bounty",
		Short: "Post and inspect bounties",
		Long:  "A bounty reserves treasury funds against a claimed amount. Posting fails when reserved/claimed is below governance.collateralization_lower_bound.",
	}
	c.AddCommand(bountyPostCmd())
	c.AddCommand(bountyListCmd())
	c.AddCommand(bountyShowCmd())
	c.AddCommand(bountySyncCmd())
	c.AddCommand(bountyPaymentsCmd())
	return c
}

func bountyPostCmd() *cobra.Command {
	var (
		description, treasuryAccount string
		acceptance, supervision      string
		acceptanceJSON               string
		foundation                   uint32
		reserve, claimed             uint64
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a bounty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				accBoard, err := boardFlag(e.Config, acceptance, acceptanceJSON)
				if err != nil {
					return err
				}
				if accBoard == nil {
					return fmt.Errorf("--acceptance or --acceptance-json required")
				}
				supBoard, err := boardFlag(e.Config, supervision, "")
				if err != nil {
					return err
				}
				b, err := e.PostBounty(ctx, engine.PostBountyOptions{
					Actor:                   actor(),
					Description:             domain.Hash(description),
					FoundationID:            domain.OrgID(foundation),
					TreasuryAccount:         domain.AccountID(treasuryAccount),
					Reserve:                 domain.Amount(reserve),
					ClaimedFundingAvailable: domain.Amount(claimed),
					Acceptance:              accBoard,
					Supervision:             supBoard,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "bounty description hash")
	cmd.Flags().Uint32Var(&foundation, "foundation", 0, "foundation org id")
	cmd.Flags().StringVar(&treasuryAccount, "treasury-account", "", "account funding the bounty (default: actor)")
	cmd.Flags().Uint64Var(&reserve, "reserve", 0, "amount to reserve")
	cmd.Flags().Uint64Var(&claimed, "claimed", 0, "claimed funding available")
	cmd.Flags().StringVar(&acceptance, "acceptance", "", "acceptance committee preset")
	cmd.Flags().StringVar(&acceptanceJSON, "acceptance-json", "", "acceptance committee as a board spec JSON")
	cmd.Flags().StringVar(&supervision, "supervision", "", "supervision committee preset (default: acceptance)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func boardFlag(cfg *config.Config, preset, raw string) (domain.ReviewBoard, error) {
	if raw != "" {
		var spec domain.BoardSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, fmt.Errorf("invalid board spec: %w", err)
		}
		return spec.Board()
	}
	if preset == "" {
		return nil, nil
	}
	return cfg.Preset(preset)
}

func bountyListCmd() *cobra.Command {
	var foundation uint32
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBounties(ctx, domain.OrgID(foundation))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Foundation", "Treasury", "Reserved", "Claimed", "Ratio")
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.FoundationID, b.TreasuryAccount, b.FundingReserved, b.ClaimedFunding, b.Ratio().StringFixed(4)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&foundation, "foundation", 0, "foundation filter")
	return cmd
}

func bountyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show BOUNTY",
		Short: "Show a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.GetBounty(ctx, domain.BountyID(ids[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bountySyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-funds BOUNTY",
		Short: "Refresh reserved funds from the treasury reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SyncBountyFunds(ctx, actor(), domain.BountyID(ids[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bountyPaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payments BOUNTY",
		Short: "Show the payment tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.PaymentTracker(ctx, domain.BountyID(ids[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"bounty_id": t.BountyID, "received": t.Received, "due": t.Due, "outstanding": t.Outstanding(),
				})
			})
		},
	}
}

// --- applications ---

func appCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "app",
		Short: "Grant applications",
		Long:  "Applications move submitted -> under review -> awaiting team consent -> live. Closing is allowed before live.",
	}
	c.AddCommand(appSubmitCmd())
	c.AddCommand(appListCmd())
	c.AddCommand(appShowCmd())
	c.AddCommand(appReviewCmd())
	c.AddCommand(appApproveCmd())
	c.AddCommand(appGrantCmd())
	c.AddCommand(appCloseCmd())
	return c
}

func appSubmitCmd() *cobra.Command {
	var (
		description, supervisor string
		amount                  uint64
		shares                  []string
	)
	cmd := &cobra.Command{
		Use:   "submit BOUNTY",
		Short: "Apply for a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			terms := domain.TermsOfAgreement{Supervisor: domain.AccountID(supervisor)}
			for _, s := range shares {
				acc, n, ok := strings.Cut(s, "=")
				if !ok {
					return fmt.Errorf("invalid --share %q: want account=shares", s)
				}
				v, err := strconv.ParseUint(n, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid --share %q: %w", s, err)
				}
				terms.Shares = append(terms.Shares, domain.ShareAllocation{Account: domain.AccountID(acc), Shares: v})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitApplication(ctx, engine.SubmitApplicationOptions{
					Actor:       actor(),
					Bounty:      domain.BountyID(ids[0]),
					Description: domain.Hash(description),
					TotalAmount: domain.Amount(amount),
					Terms:       terms,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "application description hash")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "total amount requested")
	cmd.Flags().StringVar(&supervisor, "supervisor", "", "team supervisor account")
	cmd.Flags().StringArrayVar(&shares, "share", nil, "share allocation account=shares (repeatable)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func appListCmd() *cobra.Command {
	var phases []string
	cmd := &cobra.Command{
		Use:   "list BOUNTY",
		Short: "List applications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var filter []domain.ApplicationPhase
				for _, p := range phases {
					filter = append(filter, domain.ApplicationPhase(p))
				}
				items, err := e.ListApplications(ctx, domain.BountyID(ids[0]), filter...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Submitter", "Amount", "Phase", "Updated")
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Submitter, a.TotalAmount, a.State.Phase(), a.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&phases, "phase", nil, "phase filter (repeatable)")
	return cmd
}

func appShowCmd() *cobra.Command {
	return appAction("show BOUNTY APP", "Show an application", func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error) {
		return e.GetApplication(ctx, b, a)
	})
}

func appReviewCmd() *cobra.Command {
	return appAction("review BOUNTY APP", "Open the acceptance committee vote", func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error) {
		return e.StartApplicationReview(ctx, actor(), b, a)
	})
}

func appCloseCmd() *cobra.Command {
	return appAction("close BOUNTY APP", "Close an application", func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error) {
		return e.CloseApplication(ctx, actor(), b, a)
	})
}

func appApproveCmd() *cobra.Command {
	var share uint32
	cmd := appAction("approve BOUNTY APP", "Approve an application and request team consent", func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error) {
		return e.ApproveApplication(ctx, actor(), b, a, domain.ShareID(share))
	})
	cmd.Flags().Uint32Var(&share, "share", 0, "share group collecting team consent")
	_ = cmd.MarkFlagRequired("share")
	return cmd
}

func appGrantCmd() *cobra.Command {
	var team domain.TeamID
	var org, flat, weighted uint32
	var sudo string
	cmd := appAction("grant BOUNTY APP", "Form the team and make the grant live", func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error) {
		if org != 0 {
			team = domain.TeamID{Org: domain.OrgID(org), Sudo: domain.AccountID(sudo), FlatShareID: domain.ShareID(flat), WeightedShareID: domain.ShareID(weighted)}
		}
		return e.ApproveGrant(ctx, actor(), b, a, team)
	})
	cmd.Flags().Uint32Var(&org, "team-org", 0, "team org (default: derived from the consent share)")
	cmd.Flags().StringVar(&sudo, "team-sudo", "", "team sudo account")
	cmd.Flags().Uint32Var(&flat, "flat-share", 0, "team flat share group")
	cmd.Flags().Uint32Var(&weighted, "weighted-share", 0, "team weighted share group")
	return cmd
}

func appAction(use, short string, fn func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := fn(ctx, e, domain.BountyID(ids[0]), domain.ApplicationID(ids[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

// --- milestones ---

func milestoneCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "milestone",
		Short: "Milestone submissions",
		Long:  "Milestones are filed by the team of a live application and reviewed by the supervision committee. Approval releases the amount.",
	}
	c.AddCommand(milestoneSubmitCmd())
	c.AddCommand(milestoneListCmd())
	c.AddCommand(milestoneShowCmd())
	c.AddCommand(milestoneAction("review BOUNTY APP MILESTONE", "Open the supervision committee vote",
		func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID, m domain.MilestoneID) (any, error) {
			return e.StartMilestoneReview(ctx, actor(), b, a, m)
		}))
	c.AddCommand(milestoneAction("changes BOUNTY APP MILESTONE", "Request changes",
		func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID, m domain.MilestoneID) (any, error) {
			return e.RequestMilestoneChanges(ctx, actor(), b, a, m)
		}))
	c.AddCommand(milestoneAction("approve BOUNTY APP MILESTONE", "Enable the transfer and release funds",
		func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID, m domain.MilestoneID) (any, error) {
			return e.ApproveMilestone(ctx, actor(), b, a, m)
		}))
	c.AddCommand(milestoneResubmitCmd())
	return c
}

func milestoneSubmitCmd() *cobra.Command {
	var submission string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "submit BOUNTY APP",
		Short: "Submit milestone work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitMilestone(ctx, engine.SubmitMilestoneOptions{
					Actor:       actor(),
					Bounty:      domain.BountyID(ids[0]),
					Application: domain.ApplicationID(ids[1]),
					Submission:  domain.Hash(submission),
					Amount:      domain.Amount(amount),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission hash")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount claimed")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func milestoneResubmitCmd() *cobra.Command {
	var submission string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "resubmit BOUNTY APP MILESTONE",
		Short: "Replace a milestone whose changes were requested",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ResubmitMilestone(ctx, engine.ResubmitMilestoneOptions{
					Actor:       actor(),
					Bounty:      domain.BountyID(ids[0]),
					Application: domain.ApplicationID(ids[1]),
					Milestone:   domain.MilestoneID(ids[2]),
					Submission:  domain.Hash(submission),
					Amount:      domain.Amount(amount),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission hash")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount claimed")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func milestoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list BOUNTY APP",
		Short: "List milestones, superseded ones included",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMilestones(ctx, domain.BountyID(ids[0]), domain.ApplicationID(ids[1]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Amount", "Phase", "Supersedes", "Superseded", "Updated")
				for _, m := range items {
					supersedes := ""
					if m.Supersedes != nil {
						supersedes = fmt.Sprint(*m.Supersedes)
					}
					tw.AppendRow(table.Row{m.ID, m.Amount, m.Phase(), supersedes, m.Superseded, m.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func milestoneShowCmd() *cobra.Command {
	return milestoneAction("show BOUNTY APP MILESTONE", "Show a milestone",
		func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID, m domain.MilestoneID) (any, error) {
			return e.GetMilestone(ctx, b, a, m)
		})
}

func milestoneAction(use, short string, fn func(ctx context.Context, e engine.Engine, b domain.BountyID, a domain.ApplicationID, m domain.MilestoneID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := fn(ctx, e, domain.BountyID(ids[0]), domain.ApplicationID(ids[1]), domain.MilestoneID(ids[2]))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

// --- releases ---

func releaseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "release",
		Short: "Fund release outbox",
		Long:  "Every approved milestone enqueues a release. Pending releases are retried by 'release process' and by the sweeper.",
	}
	var status string
	var bounty uint64
	list := &cobra.Command{
		Use:   "list",
		Short: "List releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReleases(ctx, domain.ReleaseStatus(status), domain.BountyID(bounty))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Bounty", "App", "Milestone", "Amount", "Recipient", "Status", "Attempts", "Last error")
				for _, r := range items {
					tw.AppendRow(table.Row{r.BountyID, r.ApplicationID, r.MilestoneID, r.Amount, r.Recipient, r.Status, r.Attempts, r.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending or released")
	list.Flags().Uint64Var(&bounty, "bounty", 0, "bounty filter")
	process := &cobra.Command{
		Use:   "process",
		Short: "Retry pending releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.ProcessReleases(ctx, domain.BountyID(bounty))
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	process.Flags().Uint64Var(&bounty, "bounty", 0, "bounty filter")
	c.AddCommand(list, process)
	return c
}

// --- local collaborators ---

func voteCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "vote",
		Short: "Local votes",
		Long:  "Votes are tallied outside bountyline. The workspace stores opened votes; 'vote resolve' records the outcome the tally produced.",
	}
	c.AddCommand(&cobra.Command{
		Use:   "show VOTE",
		Short: "Show a vote, e.g. petition:1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseVoteID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				rec, err := collab.SQLVoting{DB: ws.DB}.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "resolve VOTE approved|rejected",
		Short: "Record a vote outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseVoteID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				votes := collab.SQLVoting{DB: ws.DB}
				if err := votes.Resolve(ctx, id, collab.Outcome(args[1])); err != nil {
					return err
				}
				rec, err := votes.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})
	return c
}

func orgCmd() *cobra.Command {
	c := &cobra.Command{Use: "org", Short: "Local org membership"}
	var weight uint64
	add := &cobra.Command{
		Use:   "add-member ORG SHARE ACCOUNT",
		Short: "Add or reweight a share group member",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:2])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				m := collab.Member{Account: domain.AccountID(args[2]), Weight: weight}
				if err := (collab.SQLOrganization{DB: ws.DB}).AddMember(ctx, domain.OrgID(ids[0]), domain.ShareID(ids[1]), m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	add.Flags().Uint64Var(&weight, "weight", 1, "member weight")
	members := &cobra.Command{
		Use:   "members ORG SHARE",
		Short: "List share group members",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Org.Members(ctx, domain.OrgID(ids[0]), domain.ShareID(ids[1]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Account", "Weight")
				for _, m := range items {
					tw.AppendRow(table.Row{m.Account, m.Weight})
				}
				tw.Render()
				return nil
			})
		},
	}
	c.AddCommand(add, members)
	return c
}

func treasuryCmd() *cobra.Command {
	c := &cobra.Command{Use: "treasury", Short: "Local treasury accounts"}
	c.AddCommand(&cobra.Command{
		Use:   "deposit ACCOUNT AMOUNT",
		Short: "Credit an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t := collab.SQLTreasury{DB: ws.DB}
				if err := t.Deposit(ctx, domain.AccountID(args[0]), domain.Amount(amount)); err != nil {
					return err
				}
				bal, err := t.AccountBalance(ctx, domain.AccountID(args[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"account": args[0], "balance": bal})
			})
		},
	})
	var reservation bool
	balance := &cobra.Command{
		Use:   "balance ACCOUNT|RESERVATION",
		Short: "Show an account or reservation balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t := collab.SQLTreasury{DB: ws.DB}
				var bal domain.Amount
				var err error
				if reservation {
					bal, err = t.Balance(ctx, domain.ReservationID(args[0]))
				} else {
					bal, err = t.AccountBalance(ctx, domain.AccountID(args[0]))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": args[0], "balance": bal})
			})
		},
	}
	balance.Flags().BoolVar(&reservation, "reservation", false, "treat the argument as a reservation id")
	c.AddCommand(balance)
	return c
}

// --- maintenance ---

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sync votes, expire stale reviews, retry releases and archive closed applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				store, err := ws.Archive()
				if err != nil {
					return err
				}
				res, err := ws.Engine.Sweep(ctx, store)
				if perr := printJSONOrTable(res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	var olderThan time.Duration
	c := &cobra.Command{
		Use:   "archive",
		Short: "Move old closed applications into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				window := olderThan
				if window == 0 {
					window = ws.Config.Governance.Archive.ClosedAfter.Std()
				}
				store, err := ws.Archive()
				if err != nil {
					return err
				}
				recs, err := ws.Engine.ArchiveClosed(ctx, store, window)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				fmt.Printf("archived %d application(s)\n", len(recs))
				return nil
			})
		},
	}
	c.Flags().DurationVar(&olderThan, "older-than", 0, "closed for at least this long (default governance.archive.closed_after)")
	c.AddCommand(&cobra.Command{
		Use:   "list BOUNTY",
		Short: "List archived applications of a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				store, err := ws.Archive()
				if err != nil {
					return err
				}
				recs, err := store.ListApplications(ctx, domain.BountyID(ids[0]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := newTable("App", "Submitter", "Amount", "Milestones", "Events", "Archived")
				for _, r := range recs {
					tw.AppendRow(table.Row{r.Application.ID, r.Application.Submitter, r.Application.TotalAmount, len(r.Milestones), len(r.Events), r.ArchivedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every committed transition, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var bounty, application, milestone uint64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Bounty = domain.BountyID(bounty)
			f.Application = domain.ApplicationID(application)
			f.Milestone = domain.MilestoneID(milestone)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "TS", "Type", "Bounty", "App", "Milestone", "Actor")
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.BountyID, evt.ApplicationID, evt.MilestoneID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().Uint64Var(&bounty, "bounty", 0, "bounty filter")
	cmd.Flags().Uint64Var(&application, "app", 0, "application filter")
	cmd.Flags().Uint64Var(&milestone, "milestone", 0, "milestone filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
		Long:  "bountyline.yml sets the collateralization lower bound, review expiry windows, archival and named board presets.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), actor(), ttl)
			if err != nil {
				return fmt.Errorf("%w (set BOUNTYLINE_JWT_SECRET)", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ws, err := app.Open(app.Options{
				Workspace:  viper.GetString("workspace"),
				ConfigPath: viper.GetString("config"),
				Logger:     logger,
				Metrics:    metrics.New(),
			})
			if err != nil {
				return err
			}
			defer ws.Close()
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				DevLogin:         devLogin,
				Logger:           logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("BOUNTYLINE_JWT_SECRET is required for bearer auth")
			}
			store, err := ws.Archive()
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Archive: store})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sweepDone := make(chan struct{})
			if noSweep {
				close(sweepDone)
			} else {
				go func() {
					defer close(sweepDone)
					engine.Sweeper{Engine: ws.Engine, Archive: store}.Run(ctx)
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
			err = srv.ListenAndServe()
			<-sweepDone
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "DEV ONLY: trust an X-Actor-Id header")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "DEV ONLY: expose POST /auth/dev/login")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the background sweeper")
	return cmd
}

// --- helpers ---

func actor() domain.AccountID {
	return domain.AccountID(viper.GetString("actor-id"))
}

func newLogger() *slog.Logger {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"), os.Stderr)
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     newLogger(),
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids[i] = v
	}
	return ids, nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
