package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/executor"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Acquire, renew, release, and inspect leases",
}

var (
	claimTTLSecs    int
	claimIndefinite bool
	claimReason     string
	claimMine       bool
)

var claimAcquireCmd = &cobra.Command{
	Use:   "acquire <issue>",
	Short: "Lease an issue for the acting agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		lease, err := e.ClaimAcquire(executor.ClaimRequest{
			IssueRef:   args[0],
			TTL:        time.Duration(claimTTLSecs) * time.Second,
			Indefinite: claimIndefinite,
			Reason:     claimReason,
			Agent:      flagAgent,
		})
		if err != nil {
			return err
		}
		return emit(lease, func() { printLease(lease, claims.StatusActive) })
	},
}

var claimRenewCmd = &cobra.Command{
	Use:   "renew <lease-id>",
	Short: "Extend a lease and refresh its heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		lease, err := e.ClaimRenew(args[0], flagAgent)
		if err != nil {
			return err
		}
		return emit(lease, func() { printLease(lease, claims.StatusActive) })
	},
}

var claimHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <lease-id>",
	Short: "Record liveness without changing expiry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		lease, err := e.ClaimHeartbeat(args[0], flagAgent)
		if err != nil {
			return err
		}
		return emit(lease, func() {
			fmt.Printf("heartbeat recorded for %s\n", lease.LeaseID)
		})
	},
}

var claimReleaseCmd = &cobra.Command{
	Use:   "release <lease-id>",
	Short: "Release a lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		if err := e.ClaimRelease(args[0], flagAgent); err != nil {
			return err
		}
		fmt.Println("lease released")
		return nil
	},
}

var claimEvictCmd = &cobra.Command{
	Use:   "force-evict <issue>",
	Short: "Evict another agent's lease (requires --reason)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		if err := e.ClaimForceEvict(args[0], claimReason, flagAgent); err != nil {
			return err
		}
		fmt.Println("lease evicted")
		return nil
	},
}

var claimTransferCmd = &cobra.Command{
	Use:   "transfer <lease-id> <to-agent>",
	Short: "Hand a lease to another agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		lease, err := e.ClaimTransfer(args[0], args[1], flagAgent)
		if err != nil {
			return err
		}
		return emit(lease, func() { printLease(lease, claims.StatusActive) })
	},
}

var claimStatusCmd = &cobra.Command{
	Use:   "status <issue>",
	Short: "Show the active lease on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		view, err := e.ClaimStatus(args[0], flagAgent)
		if err != nil {
			return err
		}
		if view == nil {
			fmt.Println("unclaimed")
			return nil
		}
		return emit(view, func() { printLease(view.Lease, view.Status) })
	},
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active leases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		views, err := e.ClaimList(flagAgent, claimMine)
		if err != nil {
			return err
		}
		return emit(views, func() {
			for _, v := range views {
				printLease(v.Lease, v.Status)
			}
		})
	},
}

func printLease(lease *claims.Lease, status claims.LeaseStatus) {
	expiry := "indefinite"
	if !lease.Indefinite() {
		expiry = "until " + lease.ExpiresAt.UTC().Format(time.RFC3339)
	}
	fmt.Printf("%s  %s  %s  %s  [%s]\n",
		lease.LeaseID, shortID(lease.IssueID), lease.AgentID, expiry, status)
}

func init() {
	claimAcquireCmd.Flags().IntVar(&claimTTLSecs, "ttl", 0, "Lease TTL in seconds (0 = repository default)")
	claimAcquireCmd.Flags().BoolVar(&claimIndefinite, "indefinite", false, "Acquire an indefinite lease (requires --reason)")
	claimAcquireCmd.Flags().StringVar(&claimReason, "reason", "", "Reason for indefinite lease or eviction")
	claimEvictCmd.Flags().StringVar(&claimReason, "reason", "", "Why the lease is evicted (required)")
	claimListCmd.Flags().BoolVar(&claimMine, "mine", false, "Only the acting agent's leases")

	claimCmd.AddCommand(claimAcquireCmd, claimRenewCmd, claimHeartbeatCmd,
		claimReleaseCmd, claimEvictCmd, claimTransferCmd, claimStatusCmd, claimListCmd)
	rootCmd.AddCommand(claimCmd)
}
