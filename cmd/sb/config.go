package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"golang.org/x/term"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Edit the signalbox config file",
	}

	cmd.AddCommand(newConfigSetTokenCmd())
	cmd.AddCommand(newConfigSetHostCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigSetTokenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store the API token for the configured provider",
		Long:  "Stores the API token. Without an argument the token is read from the terminal without echo, or from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				token, err = readToken(cmd)
				if err != nil {
					return err
				}
			}
			return runConfigSetToken(cmd, configPath, token)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// readToken prompts on a terminal, or reads the first line of piped input.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runConfigSetToken(cmd *cobra.Command, configPath, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider == config.ProviderGitHub {
		cfg.GitHub.Token = token
	} else {
		cfg.GitLab.Token = token
	}
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s token to %s\n", cfg.Provider, configPath)
	return nil
}

func newConfigSetHostCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set-host <host>",
		Short: "Set the API host for the configured provider",
		Long:  "Sets the GitLab host (e.g. gitlab.example.com) or the GitHub Enterprise base URL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSetHost(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runConfigSetHost(cmd *cobra.Command, configPath, host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("host is empty")
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider == config.ProviderGitHub {
		cfg.GitHub.BaseURL = host
	} else {
		cfg.GitLab.Host = host
	}
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s host to %s\n", cfg.Provider, host)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config:     %s\n", configPath)
	fmt.Fprintf(out, "provider:   %s\n", cfg.Provider)
	if cfg.Provider == config.ProviderGitHub {
		fmt.Fprintf(out, "base_url:   %s\n", cfg.GitHub.BaseURL)
	} else {
		fmt.Fprintf(out, "host:       %s\n", cfg.GitLab.Host)
	}
	fmt.Fprintf(out, "token:      %s\n", mask(cfg.Token()))
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		m := cfg.Database.MySQL
		fmt.Fprintf(out, "database:   mysql %s@%s:%d/%s\n", m.User, m.Host, m.Port, m.Name)
	default:
		fmt.Fprintf(out, "database:   sqlite %s\n", cfg.ResolvePath(cfg.Database.Path))
	}
	fmt.Fprintf(out, "poll:       %ds\n", cfg.PollIntervalSec)
	if cfg.ServerEnabled() {
		fmt.Fprintf(out, "server:     :%d\n", cfg.Server.Port)
	} else {
		fmt.Fprintf(out, "server:     disabled\n")
	}
	if cfg.Digest.Schedule != "" {
		fmt.Fprintf(out, "digest:     %s\n", cfg.Digest.Schedule)
	}
	return nil
}

// mask hides all but the last four characters of a secret.
func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
