package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

// splitArgs splits a line on whitespace, single or double quotes group words.
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
		inArg   bool
	)
	for _, r := range line {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		args = append(args, current.String())
	}
	return args
}

// resetFlags puts every flag of cmd and its subcommands back to its default,
// cobra keeps parsed values between executions of the same tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func runShell(cmd *cobra.Command, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "type a command (help for a list, exit to leave)")
	for {
		fmt.Fprint(out, "pricetracker> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		args := splitArgs(scanner.Text())
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit", "q":
			return nil
		case "shell":
			fmt.Fprintln(out, "already in the shell")
			continue
		}

		rootCmd.SetArgs(args)
		err := rootCmd.ExecuteContext(ctx)
		resetFlags(rootCmd)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Runs commands interactively against one database.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd, os.Stdin, os.Stdout)
	},
}
