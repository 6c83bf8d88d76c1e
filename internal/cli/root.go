// Package cli implements the treefs command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/pkg/client"
)

// Environment variables consulted for flag defaults.
const (
	envServer = "TREEFS_SERVER"
	envActor  = "TREEFS_ACTOR"
)

const defaultServer = "http://localhost:8080"

type globalFlags struct {
	server   string
	actor    string
	logLevel string
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "treefs",
		Short: "Hierarchical file storage over local disk or S3",
		Long: `treefs stores folders and files under a client root on local disk or in an
S3 bucket. Every node can carry a description and a free-form metadata map.

Run "treefs serve" to start the API server; the other commands talk to a
running server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(logging.Config{
				Level:      g.logLevel,
				Format:     "console",
				OutputPath: "stderr",
			})
		},
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&g.server, "server", server, "treefs server URL ($"+envServer+")")
	root.PersistentFlags().StringVar(&g.actor, "actor", os.Getenv(envActor), "name recorded as creator/updater ($"+envActor+")")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(),
		newVersionCmd(),
		newLsCmd(g),
		newMkdirCmd(g),
		newPutCmd(g),
		newGetCmd(g),
		newCopyCmd(g, false),
		newCopyCmd(g, true),
		newRmCmd(g),
		newMetaCmd(g),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (g *globalFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: g.server, Actor: g.actor})
}
