package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/types"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Define gates and drive per-issue gate status",
}

var (
	gateStage       string
	gateMode        string
	gateTitle       string
	gateDescription string
	gateCommand     string
	gateTimeoutSecs int
)

var gateDefineCmd = &cobra.Command{
	Use:   "define <key>",
	Short: "Add or replace a gate definition in the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		def := types.GateDef{
			Key:         args[0],
			Title:       gateTitle,
			Description: gateDescription,
			Stage:       types.GateStage(gateStage),
			Mode:        types.GateMode(gateMode),
		}
		if def.Mode == types.ModeAuto {
			def.Checker = types.ExecCheckerSpec(gateCommand, gateTimeoutSecs)
		}
		if err := e.GateDefine(def, flagAgent); err != nil {
			return err
		}
		fmt.Printf("gate %s defined (%s, %s)\n", def.Key, def.Stage, def.Mode)
		return nil
	},
}

var gateUndefineCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove a gate definition from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		if err := e.GateUndefine(args[0], flagAgent); err != nil {
			return err
		}
		fmt.Printf("gate %s removed\n", args[0])
		return nil
	},
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gate definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		defs, err := e.Registry().List()
		if err != nil {
			return err
		}
		return emit(defs, func() {
			for _, def := range defs {
				fmt.Printf("%-16s %-10s %-7s %s\n", def.Key, def.Stage, def.Mode, def.Title)
			}
		})
	},
}

var gateAddCmd = &cobra.Command{
	Use:   "add <issue> <key>",
	Short: "Require a gate on an issue",
	Args:  cobra.ExactArgs(2),
	RunE:  gateIssueAction(func(e gateExec, issue, key string) (*types.Issue, error) { return e.GateAdd(issue, key, flagAgent) }),
}

var gateDropCmd = &cobra.Command{
	Use:   "drop <issue> <key>",
	Short: "Drop a gate requirement from an issue",
	Args:  cobra.ExactArgs(2),
	RunE:  gateIssueAction(func(e gateExec, issue, key string) (*types.Issue, error) { return e.GateRemove(issue, key, flagAgent) }),
}

var gatePassCmd = &cobra.Command{
	Use:   "pass <issue> <key>",
	Short: "Mark a manual gate passed",
	Args:  cobra.ExactArgs(2),
	RunE:  gateIssueAction(func(e gateExec, issue, key string) (*types.Issue, error) { return e.GatePass(issue, key, flagAgent) }),
}

var gateFailCmd = &cobra.Command{
	Use:   "fail <issue> <key>",
	Short: "Mark a gate failed",
	Args:  cobra.ExactArgs(2),
	RunE:  gateIssueAction(func(e gateExec, issue, key string) (*types.Issue, error) { return e.GateFail(issue, key, flagAgent) }),
}

var gateResetCmd = &cobra.Command{
	Use:   "reset <issue> <key>",
	Short: "Return a failed gate to required",
	Args:  cobra.ExactArgs(2),
	RunE:  gateIssueAction(func(e gateExec, issue, key string) (*types.Issue, error) { return e.GateReset(issue, key, flagAgent) }),
}

var gateCheckCmd = &cobra.Command{
	Use:   "check <issue> [key]",
	Short: "Execute configured checkers (one gate, or all auto gates)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		var issue *types.Issue
		if len(args) == 2 {
			issue, err = e.GateCheck(args[0], args[1], flagAgent)
		} else {
			issue, err = e.CheckAll(args[0], flagAgent)
		}
		if err != nil {
			return err
		}
		return emit(issue, func() { printGateStatus(issue) })
	},
}

var gatePrechecksCmd = &cobra.Command{
	Use:   "prechecks <issue>",
	Short: "Execute every auto precheck gate on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.RunPrechecks(args[0], flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() { printGateStatus(issue) })
	},
}

var gatePostchecksCmd = &cobra.Command{
	Use:   "postchecks <issue>",
	Short: "Execute every auto postcheck gate on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := e.RunPostchecks(args[0], flagAgent)
		if err != nil {
			return err
		}
		return emit(issue, func() { printGateStatus(issue) })
	},
}

// gateExec is the slice of the executor the per-issue gate commands use.
type gateExec interface {
	GateAdd(ref, key, agent string) (*types.Issue, error)
	GateRemove(ref, key, agent string) (*types.Issue, error)
	GatePass(ref, key, agent string) (*types.Issue, error)
	GateFail(ref, key, agent string) (*types.Issue, error)
	GateReset(ref, key, agent string) (*types.Issue, error)
}

func gateIssueAction(fn func(gateExec, string, string) (*types.Issue, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		issue, err := fn(e, args[0], args[1])
		if err != nil {
			return err
		}
		return emit(issue, func() { printGateStatus(issue) })
	}
}

func printGateStatus(issue *types.Issue) {
	fmt.Printf("%s [%s]\n", shortID(issue.ID), issue.State)
	for _, key := range issue.GatesRequired {
		fmt.Printf("  %-16s %s\n", key, issue.GateStatusOf(key))
	}
}

func init() {
	gateDefineCmd.Flags().StringVar(&gateStage, "stage", "postcheck", "Gate stage (precheck, postcheck)")
	gateDefineCmd.Flags().StringVar(&gateMode, "mode", "manual", "Gate mode (manual, auto)")
	gateDefineCmd.Flags().StringVar(&gateTitle, "title", "", "Gate title")
	gateDefineCmd.Flags().StringVar(&gateDescription, "description", "", "Gate description")
	gateDefineCmd.Flags().StringVar(&gateCommand, "command", "", "Checker command for auto gates")
	gateDefineCmd.Flags().IntVar(&gateTimeoutSecs, "timeout", 60, "Checker timeout in seconds")

	gateCmd.AddCommand(gateDefineCmd, gateUndefineCmd, gateListCmd, gateAddCmd,
		gateDropCmd, gatePassCmd, gateFailCmd, gateResetCmd, gateCheckCmd,
		gatePrechecksCmd, gatePostchecksCmd)
	rootCmd.AddCommand(gateCmd)
}
