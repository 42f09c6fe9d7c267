// Command cfddns points Cloudflare DNS records at the public IP of this host.
//
// It runs once and exits, so schedule it with cron or a systemd timer:
//
//	*/5 * * * * cfddns --config /etc/cfddns/config.yml
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Travis-Britz/cfddns"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

var flags = struct {
	ConfigFile string
	Verbose    bool
	DryRun     bool
	IPv4       string
	IPv6       string
	Timeout    time.Duration
}{}

var logger = log.New(io.Discard, "", log.LstdFlags)

// apiOptions are passed to every Cloudflare API client the commands create.
var apiOptions []cloudflare.Option

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfddns",
		Short: "Synchronize Cloudflare DNS records with this host's public IP",
		Long: `cfddns detects the public IPv4 and IPv6 addresses of this host and
creates or updates the A and AAAA records listed in its config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is not an error
			_ = godotenv.Load()
			if flags.Verbose {
				logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "config.yml", "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	root.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Report changes without writing any record")
	root.Flags().StringVar(&flags.IPv4, "ipv4", "", "Use this IPv4 address instead of asking an echo service")
	root.Flags().StringVar(&flags.IPv6, "ipv6", "", "Use this IPv6 address instead of asking an echo service")
	root.Flags().DurationVar(&flags.Timeout, "timeout", 2*time.Minute, "Give up after this long")

	root.AddCommand(newInitCmd(), newVersionCmd())
	return root
}

func runSync(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	cfg, err := cfddns.LoadConfig(flags.ConfigFile)
	if err != nil {
		return err
	}
	logger.Printf("loaded %d records from %s", len(cfg.Records), flags.ConfigFile)

	opts := []cfddns.ClientOption{
		cfddns.WithLogger(logger),
		cfddns.WithOutput(out),
		cfddns.WithDryRun(flags.DryRun),
		cfddns.UsingCloudflareOptions(apiOptions...),
	}
	for _, fixed := range []struct{ flag, typ, addr string }{
		{"ipv4", cfddns.TypeA, flags.IPv4},
		{"ipv6", cfddns.TypeAAAA, flags.IPv6},
	} {
		if fixed.addr == "" {
			continue
		}
		r, err := cfddns.FromString(fixed.addr)
		if err != nil {
			return fmt.Errorf("--%s: %w", fixed.flag, err)
		}
		opts = append(opts, cfddns.UsingResolver(fixed.typ, r))
	}

	client, err := cfddns.NewFromConfig(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("error creating client: %w", err)
	}
	if _, err := client.Sync(ctx, cfg.Records); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cfddns", version)
		},
	}
}
