package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrencc/wrencc"
	"github.com/wrencc/wrencc/internal/irdoc"
)

func newCompileCommand(root *RootOptions) *cobra.Command {
	var output string
	var asObject bool

	cmd := &cobra.Command{
		Use:           "compile <ir-doc.yaml>",
		Short:         "compile a serialized IR document to LLVM IR",
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
			result, err := wrencc.Compile(mod, wrencc.CompileOptions{EmitObjectTag: asObject})
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(result.Output)
				return err
			}
			return os.WriteFile(output, result.Output, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write LLVM IR to this path instead of stdout")
	cmd.Flags().BoolVar(&asObject, "object", false, "tag the artifact as intended for object-code output")
	return cmd
}
