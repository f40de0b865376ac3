// Command jit is the CLI for the JIT work-coordination substrate: issues,
// dependencies, quality gates, and claims, stored repository-locally and
// safe for concurrent agents.
package main

func main() {
	Execute()
}
