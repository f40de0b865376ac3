package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/executor"
	"github.com/erankavija/jit/internal/types"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Create, inspect, and advance issues",
}

var (
	createDescription string
	createPriority    string
	createLabels      []string
	createDeps        []string
	createGates       []string
)

var issueCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create an issue in the backlog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.CreateIssue(executor.CreateParams{
			Title:        args[0],
			Description:  createDescription,
			Priority:     types.Priority(createPriority),
			Labels:       createLabels,
			Dependencies: createDeps,
			Gates:        createGates,
			Agent:        flagAgent,
		})
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s  %s  [%s]\n", shortID(issue.ID), issue.Title, issue.State)
		})
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.Get(args[0])
		if err != nil {
			return err
		}
		return emit(issue, func() { printIssue(issue) })
	},
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every issue in canonical order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issues, err := e.List()
		if err != nil {
			return err
		}
		return emit(issues, func() { printIssueTable(issues) })
	},
}

var issueStateCmd = &cobra.Command{
	Use:   "state <id> <state>",
	Short: "Request a state transition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.SetState(args[0], types.State(args[1]), flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s is now %s\n", shortID(issue.ID), issue.State)
		})
	},
}

var rejectReason string

var issueRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject an issue, bypassing gates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.Reject(args[0], rejectReason, flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s rejected\n", shortID(issue.ID))
		})
	},
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <id> <assignee>",
	Short: "Assign an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.Assign(args[0], args[1], flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s assigned to %s\n", shortID(issue.ID), issue.Assignee)
		})
	},
}

var issueUnassignCmd = &cobra.Command{
	Use:   "unassign <id>",
	Short: "Clear an issue's assignee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.Unassign(args[0], flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s unassigned\n", shortID(issue.ID))
		})
	},
}

var issueLabelCmd = &cobra.Command{
	Use:   "label <id> <add|remove> <namespace:value>",
	Short: "Edit an issue's labels",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		var issue *types.Issue
		switch args[1] {
		case "add":
			issue, err = e.LabelAdd(args[0], args[2], flagAgent)
		case "remove":
			issue, err = e.LabelRemove(args[0], args[2], flagAgent)
		default:
			return fmt.Errorf("unknown label action %q", args[1])
		}
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s labels: %s\n", shortID(issue.ID), strings.Join(issue.Labels, ", "))
		})
	},
}

var issueContextCmd = &cobra.Command{
	Use:   "context <id> <set|unset> <key> [value]",
	Short: "Edit an issue's agent-private context",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		var issue *types.Issue
		switch args[1] {
		case "set":
			if len(args) != 4 {
				return fmt.Errorf("context set requires a value")
			}
			issue, err = e.ContextSet(args[0], args[2], args[3], flagAgent)
		case "unset":
			issue, err = e.ContextUnset(args[0], args[2], flagAgent)
		default:
			return fmt.Errorf("unknown context action %q", args[1])
		}
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s context updated\n", shortID(issue.ID))
		})
	},
}

var (
	docLabel string
	docType  string
)

var issueDocCmd = &cobra.Command{
	Use:   "doc <id> <path>",
	Short: "Attach a document reference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.DocumentAttach(args[0], types.Document{
			Path: args[1], Label: docLabel, DocType: docType,
		}, flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() {
			fmt.Printf("%s: attached %s\n", shortID(issue.ID), args[1])
		})
	},
}

func init() {
	issueCreateCmd.Flags().StringVarP(&createDescription, "description", "d", "", "Issue description")
	issueCreateCmd.Flags().StringVarP(&createPriority, "priority", "p", "", "Priority (critical, high, normal, low)")
	issueCreateCmd.Flags().StringSliceVarP(&createLabels, "label", "l", nil, "Labels (namespace:value)")
	issueCreateCmd.Flags().StringSliceVar(&createDeps, "dep", nil, "Dependency issue IDs")
	issueCreateCmd.Flags().StringSliceVar(&createGates, "gate", nil, "Required gate keys")
	issueRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the issue is rejected (required)")
	issueDocCmd.Flags().StringVar(&docLabel, "label", "", "Document label")
	issueDocCmd.Flags().StringVar(&docType, "type", "", "Document type")

	issueCmd.AddCommand(issueCreateCmd, issueShowCmd, issueListCmd, issueStateCmd,
		issueRejectCmd, issueAssignCmd, issueUnassignCmd, issueLabelCmd,
		issueContextCmd, issueDocCmd)
	rootCmd.AddCommand(issueCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printIssue(issue *types.Issue) {
	fmt.Printf("id:        %s\n", issue.ID)
	fmt.Printf("title:     %s\n", issue.Title)
	fmt.Printf("state:     %s\n", issue.State)
	fmt.Printf("priority:  %s\n", issue.Priority)
	if issue.Assignee != "" {
		fmt.Printf("assignee:  %s\n", issue.Assignee)
	}
	if len(issue.Labels) > 0 {
		fmt.Printf("labels:    %s\n", strings.Join(issue.Labels, ", "))
	}
	if len(issue.Dependencies) > 0 {
		deps := make([]string, 0, len(issue.Dependencies))
		for _, d := range issue.Dependencies {
			deps = append(deps, shortID(d))
		}
		fmt.Printf("deps:      %s\n", strings.Join(deps, ", "))
	}
	for _, key := range issue.GatesRequired {
		fmt.Printf("gate:      %s = %s\n", key, issue.GateStatusOf(key))
	}
	if issue.Description != "" {
		fmt.Printf("\n%s\n", issue.Description)
	}
}

func printIssueTable(issues []*types.Issue) {
	for _, issue := range issues {
		assignee := issue.Assignee
		if assignee == "" {
			assignee = "-"
		}
		fmt.Printf("%-10s %-12s %-9s %-20s %s\n",
			shortID(issue.ID), issue.State, issue.Priority, assignee, issue.Title)
	}
}
