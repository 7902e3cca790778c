// Command wrencc is the driver binary: it reads a serialized IR document,
// then either compiles it to LLVM IR or runs it through the reference
// runtime simulator, in the style of the retrieval pack's own cobra-based
// CLI drivers.
package main

import (
	"fmt"
	"os"

	"github.com/wrencc/wrencc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
