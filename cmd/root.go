package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:   "deepscout",
		Short: "Multi-agent deep research engine",
	}

	root.AddCommand(serveCMD(), migrateCMD(), researchCMD())
	_ = root.Execute()
}
