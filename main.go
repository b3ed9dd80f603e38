package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/archsearch/nas/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
