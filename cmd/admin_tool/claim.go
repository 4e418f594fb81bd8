package admin_tool

import (
	"context"

	"github.com/spf13/cobra"
	"go.od2.network/queues/cmd/providers"
	"go.od2.network/queues/pkg/storage"
)

var claimCmd = cobra.Command{
	Use:   "claim",
	Short: "Manage claims",
}

func init() {
	Cmd.AddCommand(&claimCmd)
}

var claimCreateCmd = cobra.Command{
	Use:   "create <queue>",
	Short: "Claim visible messages",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runClaimCreate),
}

var claimGetCmd = cobra.Command{
	Use:   "get <queue> <claim>",
	Short: "Print a claim and its messages",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runClaimGet),
}

var claimRenewCmd = cobra.Command{
	Use:   "renew <queue> <claim>",
	Short: "Renew a live claim",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runClaimRenew),
}

var claimReleaseCmd = cobra.Command{
	Use:   "release <queue> <claim>",
	Short: "Release the messages of a claim",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runClaimRelease),
}

var (
	claimTTL   int64
	claimGrace int64
	claimLimit int
)

func init() {
	claimCmd.PersistentFlags().Int64Var(&claimTTL, "ttl", 60, "Claim TTL in seconds")
	claimCmd.PersistentFlags().Int64Var(&claimGrace, "grace", 60, "Extra seconds claimed messages live past the claim")
	claimCreateCmd.Flags().IntVar(&claimLimit, "limit", 0, "Max messages, zero for the configured default")
	claimCmd.AddCommand(
		&claimCreateCmd,
		&claimGetCmd,
		&claimRenewCmd,
		&claimReleaseCmd,
	)
}

type claimView struct {
	*storage.Claim
	Messages []*storage.Message `json:"messages"`
}

func claimOptions(limits *storage.Limits) (storage.ClaimOptions, error) {
	opts := storage.ClaimOptions{TTL: claimTTL, Grace: claimGrace}
	return opts, limits.ValidateClaim(opts)
}

func runClaimCreate(ctx context.Context, args []string, driver storage.Driver, limits *storage.Limits) error {
	opts, err := claimOptions(limits)
	if err != nil {
		return err
	}
	claimID, msgs, err := driver.Claims().Create(ctx, args[0], tenant, opts, limits.ClaimLimit(claimLimit))
	if err != nil {
		return err
	}
	return printJSON(claimView{
		Claim:    &storage.Claim{ID: claimID, TTL: opts.TTL},
		Messages: msgs,
	})
}

func runClaimGet(ctx context.Context, args []string, driver storage.Driver) error {
	claim, msgs, err := driver.Claims().Get(ctx, args[0], args[1], tenant)
	if err != nil {
		return err
	}
	return printJSON(claimView{Claim: claim, Messages: msgs})
}

func runClaimRenew(ctx context.Context, args []string, driver storage.Driver, limits *storage.Limits) error {
	opts, err := claimOptions(limits)
	if err != nil {
		return err
	}
	return driver.Claims().Update(ctx, args[0], args[1], tenant, opts)
}

func runClaimRelease(ctx context.Context, args []string, driver storage.Driver) error {
	return driver.Claims().Delete(ctx, args[0], args[1], tenant)
}
