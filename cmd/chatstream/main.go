package main

import (
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/chatstream/cmd/chatstream/ask"
	historycmder "github.com/papercomputeco/chatstream/cmd/chatstream/history"
	servecmder "github.com/papercomputeco/chatstream/cmd/chatstream/serve"
)

const rootLongDesc string = `chatstream relays chat prompts to a hosted language model and streams
the answer back to the browser as server-sent events.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatstream",
		Short:        "Streaming chat server backed by a hosted language model",
		Long:         rootLongDesc,
		SilenceUsage: true,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
