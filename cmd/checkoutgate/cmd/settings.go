package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/checkoutgate/config"
	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/hostmatch"
	"github.com/jmcleod/checkoutgate/password"
	"github.com/jmcleod/checkoutgate/storage"
)

type settingsView struct {
	ProtectedHosts []string   `json:"protected_hosts"`
	PasswordSet    bool       `json:"password_set"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Version        uint64     `json:"version"`
}

func viewOf(s *storage.Settings) settingsView {
	v := settingsView{
		ProtectedHosts: s.ProtectedHosts,
		PasswordSet:    s.HasPassword(),
		Version:        s.Version,
	}
	if v.ProtectedHosts == nil {
		v.ProtectedHosts = []string{}
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		v.UpdatedAt = &t
	}
	return v
}

func newSettingsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change the gate settings",
		Long:  `Commands for the protected host list and the shared password, working directly on the configured settings store.`,
	}
	cmd.AddCommand(
		newSettingsShowCmd(configPath),
		newSettingsSetCmd(configPath),
		newSettingsStatusCmd(configPath),
	)
	return cmd
}

// withAdmin opens the configured store and runs fn with a settings service
// on top of it.
func withAdmin(cmd *cobra.Command, configPath string, fn func(*gate.Admin) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	return fn(gate.NewAdmin(repo, password.Default()))
}

func writeView(w io.Writer, s *storage.Settings) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(viewOf(s))
}

func newSettingsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored settings (never the password hash)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, *configPath, func(admin *gate.Admin) error {
				s, err := admin.Current(cmd.Context())
				if err != nil {
					return err
				}
				return writeView(cmd.OutOrStdout(), s)
			})
		},
	}
}

func newSettingsSetCmd(configPath *string) *cobra.Command {
	var (
		hosts         []string
		hostsText     string
		passwordValue string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the protected hosts and optionally the password",
		Long: `Replace the protected host list and, when a password is given, the shared
password. Hosts that are not given keep their current value; a missing or
empty password keeps the current one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				p, err := readSecretLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				passwordValue = p
			}
			hostsGiven := cmd.Flags().Changed("hosts") || cmd.Flags().Changed("hosts-text")
			return withAdmin(cmd, *configPath, func(admin *gate.Admin) error {
				in := gate.SettingsInput{Password: passwordValue}
				if hostsGiven {
					in.Hosts = append(append([]string{}, hosts...), hostmatch.ParseList(hostsText)...)
				} else {
					cur, err := admin.Current(cmd.Context())
					if err != nil {
						return err
					}
					in.Hosts = cur.ProtectedHosts
				}
				s, err := admin.Save(cmd.Context(), in)
				if err != nil {
					return err
				}
				return writeView(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().StringSliceVar(&hosts, "hosts", nil, "Protected hosts, comma separated (e.g. staging.example.com,*.dev.example.com)")
	cmd.Flags().StringVar(&hostsText, "hosts-text", "", "Protected hosts, one per line")
	cmd.Flags().StringVar(&passwordValue, "password", "", "New shared password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the new shared password from stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return cmd
}

func newSettingsStatusCmd(configPath *string) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the checkout of a host is gated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, *configPath, func(admin *gate.Admin) error {
				st, err := admin.Status(cmd.Context(), strings.ToLower(host))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", host, describeStatus(st))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Host to check, e.g. staging.example.com")
	cmd.MarkFlagRequired("host")
	return cmd
}

func describeStatus(st gate.Status) string {
	switch st {
	case gate.StatusProtected:
		return "protected (checkout requires the password)"
	case gate.StatusMatchedNoPassword:
		return "matched but no password set (checkout is open)"
	default:
		return "not protected (checkout is open)"
	}
}

func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password on stdin")
	}
	return line, nil
}
