package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/romkeep/romkeep/internal/handoff"
	"github.com/romkeep/romkeep/internal/mirrors"
	"github.com/romkeep/romkeep/internal/output"
	"github.com/romkeep/romkeep/internal/utils"
)

func newHandoffCmd() *cobra.Command {
	var (
		autostart bool
		batchPath string
	)
	cmd := &cobra.Command{
		Use:   "handoff [URL...]",
		Short: "Hand a link batch to a local JDownloader instead of downloading",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig(cmd)

			var targets []handoff.Target
			for _, raw := range args {
				targets = append(targets, handoff.Target{
					URL:      raw,
					DestPath: filepath.Join(outputDir, utils.FilenameFor(raw, "")),
				})
			}
			if batchPath != "" {
				data, err := os.ReadFile(batchPath)
				if err != nil {
					output.PrintError(fmt.Sprintf("Error reading batch file: %v", err))
					os.Exit(1)
				}
				var batchFile BatchFile
				if err := yaml.Unmarshal(data, &batchFile); err != nil {
					output.PrintError(fmt.Sprintf("Error parsing batch file: %v", err))
					os.Exit(1)
				}
				for _, t := range buildBatchTargets(batchFile, mirrors.NewCatalog(cfg.Provider)) {
					targets = append(targets, handoff.Target{URL: t.url, DestPath: t.dest})
				}
			}
			if len(targets) == 0 {
				output.PrintError("Nothing to hand off: pass URLs or --batch")
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sink := handoff.NewSink(cfg.Handoff, cfg.Provider.CanonicalHost)
			receipt, err := sink.Send(ctx, targets, autostart)
			if err != nil {
				output.PrintError(fmt.Sprintf("Handoff failed: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Handed %d links to %s", receipt.Count, receipt.Endpoint))
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", true, "Start the downloads immediately in JDownloader")
	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "YAML batch file to hand off")
	return cmd
}
