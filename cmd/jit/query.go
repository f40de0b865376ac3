package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/types"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find available, blocked, or filtered issues",
}

var queryAvailableCmd = &cobra.Command{
	Use:   "available",
	Short: "Ready, unassigned issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issues, err := e.Available()
		if err != nil {
			return err
		}
		return emit(issues, func() { printIssueTable(issues) })
	},
}

var queryBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "Backlog issues with their blocking dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		blocked, err := e.Blocked()
		if err != nil {
			return err
		}
		return emit(blocked, func() {
			for _, b := range blocked {
				blockers := make([]string, 0, len(b.BlockedBy))
				for _, id := range b.BlockedBy {
					blockers = append(blockers, shortID(id))
				}
				fmt.Printf("%-10s %-30s blocked by %s\n",
					shortID(b.Issue.ID), b.Issue.Title, strings.Join(blockers, ", "))
			}
		})
	},
}

var queryAssigneeCmd = &cobra.Command{
	Use:   "by-assignee <assignee>",
	Short: "Issues assigned to an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issues, err := e.ByAssignee(args[0])
		if err != nil {
			return err
		}
		return emit(issues, func() { printIssueTable(issues) })
	},
}

var queryLabelCmd = &cobra.Command{
	Use:   "by-label <namespace:value>",
	Short: "Issues carrying a label (use 'namespace:' for any value)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issues, err := e.ByLabel(args[0])
		if err != nil {
			return err
		}
		return emit(issues, func() { printIssueTable(issues) })
	},
}

var queryStateCmd = &cobra.Command{
	Use:   "by-state <state>",
	Short: "Issues in a lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issues, err := e.ByState(types.State(args[0]))
		if err != nil {
			return err
		}
		return emit(issues, func() { printIssueTable(issues) })
	},
}

func init() {
	queryCmd.AddCommand(queryAvailableCmd, queryBlockedCmd, queryAssigneeCmd,
		queryLabelCmd, queryStateCmd)
	rootCmd.AddCommand(queryCmd)
}
