package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	adminSecret string
	bind        string
	keepAlive   time.Duration
	port        int
	prefix      string
	profile     bool
	seedRooms   []string
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.adminSecret == "" {
		return errors.New("--admin-secret must be set")
	}
	if c.keepAlive <= 0 {
		return fmt.Errorf("invalid keep-alive interval: %s", c.keepAlive)
	}
	for _, entry := range c.seedRooms {
		code, _, ok := strings.Cut(entry, "=")
		if !ok || code == "" {
			return fmt.Errorf("invalid seed room (expected code=title): %q", entry)
		}
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) seededRooms() map[string]string {
	rooms := make(map[string]string, len(c.seedRooms))
	for _, entry := range c.seedRooms {
		code, title, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		rooms[code] = title
	}
	return rooms
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizline",
		Short:         "Push live multiple-choice quizzes to an audience over server-sent events.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.adminSecret, "admin-secret", "", "shared secret gating presenter endpoints (env: QUIZLINE_ADMIN_SECRET)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZLINE_BIND)")
	fs.DurationVar(&cfg.keepAlive, "keep-alive", 25*time.Second, "interval between event stream keep-alives (env: QUIZLINE_KEEP_ALIVE)")
	fs.IntVarP(&cfg.port, "port", "p", 4000, "port to listen on (env: QUIZLINE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZLINE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZLINE_PROFILE)")
	fs.StringSliceVar(&cfg.seedRooms, "seed-room", nil, "room to create on startup, as code=title; repeatable (env: QUIZLINE_SEED_ROOM)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZLINE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZLINE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZLINE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZLINE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizline v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
