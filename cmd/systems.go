package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/romkeep/romkeep/internal/mirrors"
	"github.com/romkeep/romkeep/internal/output"
)

func newSystemsCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "systems",
		Short: "List the known preservation systems and their archive paths",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig(cmd)
			catalog := mirrors.NewCatalog(cfg.Provider)
			output.PrintHeader("Known systems")
			shown := 0
			for _, s := range catalog.Systems() {
				if filter != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter)) {
					continue
				}
				fmt.Printf("  %s %s %s\n", output.FInfo(s.Name), output.StyleSymbols["arrow"], output.FDim(s.Category))
				shown++
			}
			if shown == 0 {
				output.PrintWarning("No systems match the filter")
			}
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show systems whose name contains this text")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [SYSTEM] [QUERY]",
		Short: "Search a system's remote directory listing",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig(cmd)
			catalog := mirrors.NewCatalog(cfg.Provider)
			dirURL := catalog.FindSystemURL(args[0])
			if dirURL == "" {
				output.PrintError(fmt.Sprintf("Unknown system: %s", args[0]))
				os.Exit(1)
			}
			query := ""
			if len(args) == 2 {
				query = args[1]
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			client := mirrors.NewListingClient(30 * time.Second)
			files, err := client.SearchFiles(ctx, dirURL, query)
			if err != nil {
				output.PrintError(fmt.Sprintf("Listing failed: %v", err))
				os.Exit(1)
			}
			if len(files) == 0 {
				output.PrintWarning("No matching files")
				return
			}
			output.PrintHeader(fmt.Sprintf("%d files in %s", len(files), args[0]))
			for _, f := range files {
				line := "  " + f.Name
				if f.SizeText != "" {
					line += " " + output.FDim("("+f.SizeText+")")
				}
				fmt.Println(line)
			}
		},
	}
	return cmd
}
