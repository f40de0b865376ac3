package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/executor"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .jit data plane in this worktree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if _, err := executor.Init(cwd, logger()); err != nil {
			return err
		}
		fmt.Println("Initialized JIT repository")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
