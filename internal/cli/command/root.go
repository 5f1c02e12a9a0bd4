package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/cli/config"
	"github.com/yndnr/seqmesh-go/internal/cli/connection"
	"github.com/yndnr/seqmesh-go/internal/cli/output"
	"github.com/yndnr/seqmesh-go/internal/infra/buildinfo"
)

const metaProfiles = "profiles"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "seqmesh-cli",
		Usage:                "SeqMesh FIX session store command-line tool",
		Version:              buildinfo.Get().String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			SessionCommand(),
			SystemCommand(),
			BackupCommand(),
			ProfileCommand(),
		},
		Before: loadProfiles,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Profile file",
			EnvVars: []string{"SEQMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Saved profile to connect with (default: current profile)",
			EnvVars: []string{"SEQMESH_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "RESP address of the store",
			EnvVars: []string{"SEQMESH_SERVER"},
			Value:   "127.0.0.1:7379",
		},
		&cli.StringFlag{
			Name:    "admin",
			Aliases: []string{"a"},
			Usage:   "Admin HTTP address of the store",
			EnvVars: []string{"SEQMESH_ADMIN"},
			Value:   "127.0.0.1:7380",
		},
		&cli.StringFlag{
			Name:    "secret",
			Usage:   "Shared secret for AUTH and the admin API",
			EnvVars: []string{"SEQMESH_SECRET"},
		},
		&cli.BoolFlag{
			Name:    "tls",
			Usage:   "Connect with TLS",
			EnvVars: []string{"SEQMESH_TLS"},
		},
		&cli.StringFlag{
			Name:    "tls-ca",
			Usage:   "CA bundle used to verify the server",
			EnvVars: []string{"SEQMESH_TLS_CA"},
		},
		&cli.StringFlag{
			Name:  "tls-server-name",
			Usage: "Expected server name in the certificate",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Per-call timeout",
			Value:   5 * time.Second,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

func loadProfiles(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if name := c.String("profile"); name != "" {
		if _, ok := cfg.Profiles[name]; !ok {
			return fmt.Errorf("profile %q not found in %s", name, c.String("config"))
		}
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaProfiles] = cfg
	return nil
}

// Profiles returns the profile file loaded by the app, or an empty one.
func Profiles(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaProfiles].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// GlobalFlags is the resolved connection and output settings.
type GlobalFlags struct {
	Conn connection.Options

	Output output.Format
	Wide   bool
}

// ParseGlobalFlags resolves the global flags. A profile fills every
// connection setting not given explicitly on the command line or through
// the environment.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg := Profiles(c)
	profile, _ := cfg.Profile(c.String("profile"))

	pick := func(flag, fromProfile string) string {
		if !c.IsSet(flag) && fromProfile != "" {
			return fromProfile
		}
		return c.String(flag)
	}

	outName := c.String("output")
	if !c.IsSet("output") && cfg.Output != "" {
		outName = cfg.Output
	}
	format, err := output.ParseFormat(outName)
	if err != nil {
		return nil, err
	}

	flags := &GlobalFlags{
		Conn: connection.Options{
			Server:     pick("server", profile.Server),
			Admin:      pick("admin", profile.Admin),
			Secret:     pick("secret", profile.Secret),
			Timeout:    c.Duration("timeout"),
			TLS:        c.Bool("tls") || (!c.IsSet("tls") && profile.TLS),
			CAFile:     pick("tls-ca", profile.CAFile),
			ServerName: pick("tls-server-name", profile.ServerName),
		},
		Output: format,
		Wide:   c.Bool("wide"),
	}
	return flags, nil
}

// commandContext bounds one action by --timeout on top of the app context.
func commandContext(c *cli.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// render writes data to the app writer in the selected format.
func render(c *cli.Context, flags *GlobalFlags, data any) error {
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// confirm asks a yes/no question on the app reader unless --force is set.
func confirm(c *cli.Context, prompt string) bool {
	if c.Bool("force") {
		return true
	}
	fmt.Fprintf(c.App.Writer, "%s [y/N]: ", prompt)
	var answer string
	_, _ = fmt.Fscanln(c.App.Reader, &answer)
	return answer == "y" || answer == "Y"
}
