package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges",
}

var depAddCmd = &cobra.Command{
	Use:   "add <issue> <depends-on>",
	Short: "Add a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		if err := e.AddDependency(args[0], args[1], flagAgent); err != nil {
			return err
		}
		fmt.Printf("%s now depends on %s\n", shortID(args[0]), shortID(args[1]))
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <issue> <depends-on>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		if err := e.RemoveDependency(args[0], args[1], flagAgent); err != nil {
			return err
		}
		fmt.Printf("%s no longer depends on %s\n", shortID(args[0]), shortID(args[1]))
		return nil
	},
}

var depGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the transitively reduced dependency graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getExecutor()
		if err != nil {
			return err
		}
		reduced, err := e.DependencyGraph()
		if err != nil {
			return err
		}
		return emit(reduced, func() {
			ids := make([]string, 0, len(reduced))
			for id := range reduced {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				for _, dep := range reduced[id] {
					fmt.Printf("%s -> %s\n", shortID(id), shortID(dep))
				}
			}
		})
	},
}

func init() {
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depGraphCmd)
	rootCmd.AddCommand(depCmd)
}
