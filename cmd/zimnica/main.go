package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/cli"
	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

var (
	configPath string
	verbose    bool
	quiet      bool
	noColor    bool
	debug      bool

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	handleSignals()
	if err := rootCmd.Execute(); err != nil {
		ctx.Logger.Error("%v", err)
		ctx.Shutdown()
		os.Exit(1)
	}
	ctx.Shutdown()
}

// handleSignals releases every open volume and the run lock when the
// process is interrupted, so an aborted run never leaves a decrypted
// backup drive exposed.
func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		ctx.Logger.Warning("Received %s, cleaning up...", sig)
		ctx.Shutdown()
		os.Exit(130)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "zimnica",
	Short: "Zimnica - encrypted backup drive manager",
	Long: `Zimnica replicates a system onto LUKS2-encrypted BTRFS backup drives
and restores it onto new hardware.

It handles unlocking and mounting the backup drives, incremental
replication with snapshot retention, and bare-metal restore onto a
fresh disk or onto existing partitions alongside another operating
system.`,
	Version:       "0.1.0",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Update context components with parsed flag values
		once.Do(func() {
			ctx.Executor = system.NewExecutor(debug)
			ctx.Logger = ui.NewLogger(verbose, quiet, noColor)
			ctx.ConfigPath = configPath

			ctx.LUKS = volume.NewLUKSManager(ctx.Executor)
			ctx.Mounts = volume.NewMountManager(ctx.Executor)
			ctx.Btrfs = volume.NewBtrfsManager(ctx.Executor)
			ctx.Inspector = disk.NewInspector(ctx.Executor)
			ctx.Registry = volume.NewRegistry(ctx.LUKS, ctx.Mounts, ctx.Logger, cli.PassphrasePrompt)
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", cli.DefaultConfigPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")

	// Create initial context with default values
	// Will be updated in PersistentPreRun with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false, false)

	// Register commands
	rootCmd.AddCommand(cli.NewBackupCommand(ctx))
	rootCmd.AddCommand(cli.NewRestoreCommand(ctx))
	rootCmd.AddCommand(cli.NewMountCommand(ctx))
	rootCmd.AddCommand(cli.NewUnmountCommand(ctx))
	rootCmd.AddCommand(cli.NewStatusCommand(ctx))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
