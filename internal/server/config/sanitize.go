package config

import "strings"

// Sanitize returns a copy of cfg safe to log.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Cluster.Seeds = append([]string(nil), cfg.Cluster.Seeds...)
	if out.Security.AuthSecret != "" {
		out.Security.AuthSecret = maskSecret(out.Security.AuthSecret)
	}
	if out.Security.BackupPassphrase != "" {
		out.Security.BackupPassphrase = "****"
	}
	return &out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
