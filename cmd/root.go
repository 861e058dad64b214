package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/romkeep/romkeep/internal/config"
	"github.com/romkeep/romkeep/internal/engine"
	"github.com/romkeep/romkeep/internal/output"
	"github.com/romkeep/romkeep/internal/utils"
)

var (
	cfgPath        string
	outputDir      string
	workers        int
	nativeFallback bool
	debug          bool
)

var RomkeepVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "romkeep [URL...]",
	Short:   "romkeep downloads game preservation archives from mirrored hosts",
	Version: RomkeepVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			output.PrintError("No URL provided")
			_ = cmd.Help()
			os.Exit(1)
		}
		cfg := mustLoadConfig(cmd)
		var targets []downloadTarget
		for _, raw := range args {
			parsed, err := u.Parse(raw)
			if err != nil || parsed.Host == "" {
				output.PrintError(fmt.Sprintf("Invalid URL: %s", raw))
				os.Exit(1)
			}
			targets = append(targets, downloadTarget{
				url:  raw,
				dest: filepath.Join(outputDir, utils.FilenameFor(raw, "")),
			})
		}
		os.Exit(runEngine(cfg, targets))
	},
}

type downloadTarget struct {
	url  string
	dest string
}

// runEngine drives a batch through the scheduler with a live display and a
// signal handler that halts everything on the first interrupt.
func runEngine(cfg *config.Config, targets []downloadTarget) int {
	scheduler := engine.NewJobScheduler(cfg)
	defer scheduler.Close()
	renderer := output.NewRenderer()
	renderer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		stats := scheduler.Halt()
		output.PrintWarning(fmt.Sprintf("Halting: %d queued cancelled, %d active signalled", stats.Cancelled, stats.ActiveSignalled))
	}()

	var handles []*engine.JobHandle
	for _, t := range targets {
		handles = append(handles, scheduler.Submit(t.url, t.dest, renderer.Observe))
	}

	failed := 0
	var totalBytes int64
	for _, h := range handles {
		res := h.Wait()
		if res.Status == engine.StatusError {
			failed++
		}
		totalBytes += res.Bytes
	}
	signal.Stop(sigCh)
	close(sigCh)
	renderer.Stop()

	if failed > 0 {
		output.PrintError(fmt.Sprintf("%d of %d downloads failed", failed, len(handles)))
		return 1
	}
	output.PrintSuccess(fmt.Sprintf("%d downloads complete (%s)", len(handles), utils.FormatBytes(uint64(totalBytes))))
	return 0
}

func mustLoadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		output.PrintError(fmt.Sprintf("Configuration error: %v", err))
		os.Exit(1)
	}
	if cmd.Flags().Changed("workers") {
		cfg.Engine.Workers = workers
	}
	if cmd.Flags().Changed("native-fallback") {
		cfg.Transfer.EnableNativeFallback = nativeFallback
	}
	return cfg
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() { utils.InitLogger(debug) })

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", ".", "Directory downloads land in")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 4, "Number of parallel downloads")
	rootCmd.PersistentFlags().BoolVar(&nativeFallback, "native-fallback", false, "Allow the OS-native HTTP client as a last-resort transport")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newSystemsCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newHandoffCmd())
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "romkeep", "config.toml")
}
