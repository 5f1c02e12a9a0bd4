package config

import (
	"fmt"
	"sort"
)

// CLIConfig is the content of the CLI profile file.
type CLIConfig struct {
	// Current names the profile used when --profile is not given.
	Current string `yaml:"current,omitempty"`
	// Output is the default --output format.
	Output string `yaml:"output,omitempty"`

	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// Profile stores one saved connection.
type Profile struct {
	// Server is the RESP address.
	Server string `yaml:"server" json:"server"`
	// Admin is the admin HTTP address.
	Admin string `yaml:"admin,omitempty" json:"admin,omitempty"`
	// Secret is used for AUTH and the admin bearer token.
	Secret string `yaml:"secret,omitempty" json:"-" table:"-"`

	TLS        bool   `yaml:"tls,omitempty" json:"tls,omitempty"`
	CAFile     string `yaml:"ca_file,omitempty" json:"ca_file,omitempty" table:"wide"`
	ServerName string `yaml:"server_name,omitempty" json:"server_name,omitempty" table:"wide"`
}

// Default returns an empty configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Output:   "table",
		Profiles: make(map[string]Profile),
	}
}

// Profile returns the named profile. An empty name selects Current.
func (c *CLIConfig) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.Current
	}
	if name == "" {
		return Profile{}, false
	}
	p, ok := c.Profiles[name]
	return p, ok
}

// SetProfile adds or replaces a profile. The first profile saved becomes
// current.
func (c *CLIConfig) SetProfile(name string, p Profile) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Server == "" {
		return fmt.Errorf("profile %q: server is required", name)
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	c.Profiles[name] = p
	if c.Current == "" {
		c.Current = name
	}
	return nil
}

// Use makes name the current profile.
func (c *CLIConfig) Use(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	c.Current = name
	return nil
}

// Delete removes a profile and clears Current if it pointed there.
func (c *CLIConfig) Delete(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	delete(c.Profiles, name)
	if c.Current == name {
		c.Current = ""
	}
	return nil
}

// Names returns the profile names in order.
func (c *CLIConfig) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
