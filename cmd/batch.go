package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/romkeep/romkeep/internal/mirrors"
	"github.com/romkeep/romkeep/internal/output"
	"github.com/romkeep/romkeep/internal/utils"
)

// BatchEntry is one download in a batch file. Link is either a full URL or a
// bare entry name resolved against the section's system directory.
type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}

// BatchFile maps system names (or "direct" for raw URLs) to their entries.
type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download every entry listed in a YAML batch file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading batch file: %v", err))
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				output.PrintError(fmt.Sprintf("Error parsing batch file: %v", err))
				os.Exit(1)
			}
			cfg := mustLoadConfig(cmd)
			targets := buildBatchTargets(batchFile, mirrors.NewCatalog(cfg.Provider))
			if len(targets) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			os.Exit(runEngine(cfg, targets))
		},
	}
	return cmd
}

func buildBatchTargets(batchFile BatchFile, catalog *mirrors.Catalog) []downloadTarget {
	var targets []downloadTarget
	for section, entries := range batchFile {
		systemURL := ""
		if !strings.EqualFold(section, "direct") {
			systemURL = catalog.FindSystemURL(section)
			if systemURL == "" {
				output.PrintWarning(fmt.Sprintf("Unknown system '%s', skipping section", section))
				continue
			}
		}
		for _, entry := range entries {
			if entry.Link == "" {
				output.PrintWarning(fmt.Sprintf("Empty link in '%s' section, skipping", section))
				continue
			}
			link := entry.Link
			if systemURL != "" && !strings.Contains(link, "://") {
				link = mirrors.CandidateURL(systemURL, entry.Link)
			}
			dest := entry.OutputPath
			if dest == "" {
				dest = filepath.Join(outputDir, utils.FilenameFor(link, ""))
			}
			targets = append(targets, downloadTarget{url: link, dest: dest})
		}
	}
	return targets
}
