package main

import (
	"fmt"
	"os"

	"github.com/merchantops/reconcile/cmd/reconcile/cli"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())
	root.AddCommand(cli.NewConfigCommand())

	root.AddCommand(cli.NewFetchCommand())
	root.AddCommand(cli.NewIngestCommand())
	root.AddCommand(cli.NewMatchCommand())
	root.AddCommand(cli.NewRunCommand())
	root.AddCommand(cli.NewRecoverCommand())
	root.AddCommand(cli.NewDaemonCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
