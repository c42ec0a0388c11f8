// Command wheeledit inspects and edits Python wheel (.whl) files in place.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/wheeledit/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "wheeledit {[flags]|SUBCOMMAND...}",
	Short: "Inspect and edit Python wheel files without rebuilding them",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"include informational and warning messages on stderr")
}

var verbose bool

func main() {
	ctx := context.Background()
	ctx = withVerbosity(ctx, verbose)

	if err := argparser.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
