package main

import (
	"github.com/spf13/cobra"
)

// Exit codes shared by all subcommands.
const (
	exitOK         = 0
	exitInvalid    = 1
	exitInputError = 2
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "batchauction",
		Short:         "Sealed price-priority batch auction",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.AddCommand(newServeCmd(), newVerifyReceiptCmd())
	return root
}
