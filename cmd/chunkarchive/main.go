// Command chunkarchive provides a command line interface for encoding a
// filesystem tree into a content-addressed archive (and index), and for
// decoding or verifying one back onto disk.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/chunkarchive/chunkarchive/pkg/chunkarchive"
)

func rootMain(command *cobra.Command, arguments []string) {
	if rootConfiguration.version {
		fmt.Println(chunkarchive.Version)
		return
	}
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "chunkarchive",
	Short: "chunkarchive encodes and decodes content-addressed filesystem archives",
	Run:   rootMain,
}

var rootConfiguration struct {
	help    bool
	version bool
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a TOML or YAML configuration file")

	localFlags := rootCommand.Flags()
	localFlags.BoolVarP(&rootConfiguration.help, "help", "h", false, "show help information")
	localFlags.BoolVarP(&rootConfiguration.version, "version", "V", false, "show version information")

	cobra.EnableCommandSorting = false

	rootCommand.AddCommand(
		encodeCommand,
		decodeCommand,
		verifyCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fatal(errors.Wrap(err, "command failed"))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
