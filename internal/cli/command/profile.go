package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/cli/config"
)

// ProfileView is one row of profile list.
type ProfileView struct {
	Name    string `json:"name" yaml:"name"`
	Current bool   `json:"current" yaml:"current"`
	Server  string `json:"server" yaml:"server"`
	Admin   string `json:"admin,omitempty" yaml:"admin,omitempty"`
	TLS     bool   `json:"tls" yaml:"tls"`
	CAFile  string `json:"ca_file,omitempty" yaml:"ca_file,omitempty" table:"wide"`
}

// ProfileCommand returns the profile subcommand group.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage saved connection profiles",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List profiles",
				Action: profileList,
			},
			{
				Name:      "save",
				Usage:     "Save the current connection flags as a profile",
				ArgsUsage: "NAME",
				Action:    profileSave,
			},
			{
				Name:      "use",
				Usage:     "Make a profile the default",
				ArgsUsage: "NAME",
				Action:    profileUse,
			},
			{
				Name:      "delete",
				Usage:     "Delete a profile",
				ArgsUsage: "NAME",
				Action:    profileDelete,
			},
		},
	}
}

func profileList(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cfg := Profiles(c)

	rows := make([]ProfileView, 0, len(cfg.Profiles))
	for _, name := range cfg.Names() {
		p := cfg.Profiles[name]
		rows = append(rows, ProfileView{
			Name:    name,
			Current: name == cfg.Current,
			Server:  p.Server,
			Admin:   p.Admin,
			TLS:     p.TLS,
			CAFile:  p.CAFile,
		})
	}
	return render(c, flags, rows)
}

// profileSave stores the explicit connection flags, not the values a
// profile would have filled in.
func profileSave(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("profile name required")
	}

	cfg := Profiles(c)
	err := cfg.SetProfile(name, config.Profile{
		Server:     c.String("server"),
		Admin:      c.String("admin"),
		Secret:     c.String("secret"),
		TLS:        c.Bool("tls"),
		CAFile:     c.String("tls-ca"),
		ServerName: c.String("tls-server-name"),
	})
	if err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Profile %q saved.\n", name)
	return nil
}

func profileUse(c *cli.Context) error {
	cfg := Profiles(c)
	name := c.Args().First()
	if err := cfg.Use(name); err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Now using profile %q.\n", name)
	return nil
}

func profileDelete(c *cli.Context) error {
	cfg := Profiles(c)
	name := c.Args().First()
	if err := cfg.Delete(name); err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Profile %q deleted.\n", name)
	return nil
}
