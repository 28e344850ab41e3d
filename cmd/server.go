package cmd

import (
	"github.com/spf13/cobra"
	"worker-stream/config"
	server2 "worker-stream/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the stream worker",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
