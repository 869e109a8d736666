// Package imapprov implements mailbox.Provider for mailboxes reachable
// over IMAP, as an alternative to the desktop automation bridge.
package imapprov

import "fmt"

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`      // Implicit TLS (IMAPS, port 993)
	STARTTLS bool   `toml:"starttls"` // STARTTLS upgrade (port 143)
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Addr returns the "host:port" string, defaulting the port by TLS mode.
func (c *Config) Addr() string {
	port := c.Port
	if port == 0 {
		if c.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}
