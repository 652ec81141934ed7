// Command veilfs is a minimal illustrative front end for
// internal/dispatch: password prompting and an on-disk
// wrapped-master-key config file are out of scope for this build, so
// this binary only knows how to mount with a master key given
// explicitly in hex on the command line (the same escape hatch
// gocryptfs offers via its own "-masterkey" flag, for emergencies).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilfs/veilfs/internal/exitcodes"
)

func main() {
	root := &cobra.Command{
		Use:   "veilfs",
		Short: "veilfs mounts an encrypted view of a backing directory",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.AddCommand(newMountCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitErr, ok := err.(exitcodes.Err); ok {
			exitcodes.Exit(exitErr)
			return
		}
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.Usage))
	}
}
