package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrencc/wrencc/internal/irdoc"
	"github.com/wrencc/wrencc/internal/simulate"
)

func newSimCommand(root *RootOptions) *cobra.Command {
	var entry string

	cmd := &cobra.Command{
		Use:           "sim <ir-doc.yaml>",
		Short:         "run a serialized IR document through the reference runtime simulator",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			doc, err := irdoc.Parse(data)
			if err != nil {
				return fmt.Errorf("parsing IR document: %w", err)
			}
			mod, err := irdoc.Build(doc)
			if err != nil {
				return fmt.Errorf("resolving IR document: %w", err)
			}
			it := simulate.New(mod)
			if err := it.Run(entry); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(it.Out.Bytes())
			return err
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "main", "name of the function to run")
	return cmd
}
