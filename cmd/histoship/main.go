package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/hepworks/histoship"
	"github.com/hepworks/histoship/internal/cliconfig"
	"github.com/hepworks/histoship/pkg/log"
)

const helpDescription = `
Receive detector histogram payloads, stage them on local disk and ship them
to every configured site with bounded retries. Payloads survive restarts at
every stage; a replay session re-injects archived runs through the same
pipeline.

Transfer locations are declared in the config file, for example:

  [[dataTransferLocations]]
  name = "yale"
  path = "/mnt/yale/histos"

  [[dataTransferLocations]]
  name = "EOS"
  spec = "s3://alice-histos/qa"
`

var exampleUsage = strings.TrimSpace(`
  histoship --inbox /data/inbox --metrics :9184
  histoship --config $HOME/.histoship/config.toml --once
  histoship --replay-source /archive/Run123456 --once
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var subsystems []string

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	zl := zerolog.New(output).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:     "histoship",
		Short:   "Ship detector histogram payloads to their configured sites",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["subsystems"] {
				cfg.SubsystemList = subsystems
			}

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := zerolog.ParseLevel(cfg.LogLevel)
			zl = zl.Level(level)

			logCfg := cfg
			if logCfg.GridSecretAccessKey != "" {
				logCfg.GridSecretAccessKey = "*****"
			}
			zl.Info().Interface("config", logCfg).Msg("configuration")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig, ok := <-sigCh
				if !ok {
					return
				}
				zl.Info().Str("signal", sig.String()).Msg("received signal, stopping...")
				cancel()
			}()
			defer signal.Stop(sigCh)

			logger := log.NewZerologAdapterWithLogger(zl)
			if err := histoship.RunWithLogger(ctx, cfg, logger); err != nil {
				return fmt.Errorf("run histoship: %w", err)
			}
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.histoship/config.toml)")
	root.Flags().StringVar(&cfg.DataFolder, "data-folder", cfg.DataFolder, "root of the staging tree")
	root.Flags().StringSliceVar(&subsystems, "subsystems", cfg.SubsystemList, "accepted subsystem tags")

	root.Flags().IntVar(&cfg.TransferRetries, "transfer-retries", cfg.TransferRetries, "delivery attempts per payload and site before giving up")
	root.Flags().DurationVar(&cfg.TransferSleep, "transfer-sleep", cfg.TransferSleep, "sleep between transfer cycles")
	root.Flags().DurationVar(&cfg.TransferTimeout, "transfer-timeout", cfg.TransferTimeout, "per-attempt delivery timeout")

	root.Flags().DurationVar(&cfg.ReplaySleep, "replay-sleep", cfg.ReplaySleep, "sleep between replay cycles")
	root.Flags().StringVar(&cfg.ReplaySourceDir, "replay-source", cfg.ReplaySourceDir, "archived run directory to replay (enables replay mode)")
	root.Flags().StringVar(&cfg.ReplayDestDir, "replay-dest", cfg.ReplayDestDir, "staging tree used during replay (defaults to data-folder)")
	root.Flags().StringVar(&cfg.ReplayTempDir, "replay-temp", cfg.ReplayTempDir, "holding directory for in-flight replay files")
	root.Flags().IntVar(&cfg.ReplayMaxFiles, "replay-max-files", cfg.ReplayMaxFiles, "files moved per replay cycle")

	root.Flags().StringVar(&cfg.InboxDirectory, "inbox", cfg.InboxDirectory, "inbox directory to watch for live payloads")
	root.Flags().StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "address of the HTTP payload endpoint")
	root.Flags().StringVar(&cfg.MetricsAddress, "metrics", cfg.MetricsAddress, "address of the prometheus /metrics listener")

	root.Flags().StringVar(&cfg.GridEndpoint, "grid-endpoint", cfg.GridEndpoint, "storage-grid S3 endpoint URL")
	root.Flags().StringVar(&cfg.GridRegion, "grid-region", cfg.GridRegion, "storage-grid S3 region")
	root.Flags().BoolVar(&cfg.GridForcePathStyle, "grid-path-style", cfg.GridForcePathStyle, "use path-style S3 addressing")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	root.Flags().BoolVar(&cfg.Once, "once", cfg.Once, "drain the replay source, run one transfer cycle and exit")

	if err := root.Execute(); err != nil {
		zl.Error().Err(err).Msg("histoship")
		os.Exit(1)
	}
}
