package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Travis-Britz/cfddns"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file interactively",
		Long: `init asks for a Cloudflare API token, verifies it, and writes a config
file with one record. The file is created with mode 0600 and is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runSetup(ctx context.Context, in io.Reader, out io.Writer) error {
	logger.Println("running setup")
	if _, err := os.Stat(flags.ConfigFile); err == nil {
		return fmt.Errorf("%q already exists; remove it first or pass --config", flags.ConfigFile)
	}

	r := bufio.NewReader(in)
	fmt.Fprintf(out, "Enter Cloudflare API token: \n")
	key, err := readToken(in, r)
	if err != nil {
		return fmt.Errorf("runSetup: error reading token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	logger.Println("verifying token...")
	if err := cfddns.VerifyToken(ctx, key, apiOptions...); err != nil {
		return err
	}
	logger.Println("token verified successfully")

	zone, err := prompt(r, out, "Zone ID (or zone name, e.g. example.com)")
	if err != nil {
		return err
	}
	name, err := prompt(r, out, "Record name (e.g. home.example.com)")
	if err != nil {
		return err
	}
	typ, err := prompt(r, out, "Record type [A/AAAA]")
	if err != nil {
		return err
	}

	cfg := cfddns.Config{
		Cloudflare: cfddns.CloudflareConfig{APIToken: key},
		Records:    []cfddns.RecordConfig{{Name: name, Type: strings.ToUpper(typ), TTL: cfddns.AutoTTL}},
	}
	// zone IDs are 32 hex characters; anything with a dot is a zone name
	if strings.Contains(zone, ".") {
		cfg.Cloudflare.ZoneName = zone
	} else {
		cfg.Cloudflare.ZoneID = zone
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	logger.Printf("creating config file at \"%s\"\n", flags.ConfigFile)
	f, err := os.OpenFile(flags.ConfigFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", flags.ConfigFile, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("error writing \"%s\": %w", flags.ConfigFile, err)
	}
	fmt.Fprintf(out, "config written to \"%s\"\n", flags.ConfigFile)
	return nil
}

// readToken reads without echo when in is a terminal and reads a plain line from r otherwise.
func readToken(in io.Reader, r *bufio.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func prompt(r *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("error reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
