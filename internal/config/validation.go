package config

import (
	"fmt"
	"net"
)

// ValidateTransports performs type-specific validation beyond core presence checks.
func (c *Config) ValidateTransports() error {
	seenIDs := make(map[string]struct{})
	for i, t := range c.Transports {
		if t.Type == "" {
			return fmt.Errorf("transport %d: type is required", i)
		}
		if t.ID == "" {
			t.ID = t.Type
		}
		if _, exists := seenIDs[t.ID]; exists {
			return fmt.Errorf("transport id %q is duplicated", t.ID)
		}
		seenIDs[t.ID] = struct{}{}

		switch t.Type {
		case "nostr":
			if len(t.Relays) == 0 {
				return fmt.Errorf("transport %q: relays required", t.ID)
			}
			if t.PrivateKey == "" {
				return fmt.Errorf("transport %q: private_key required", t.ID)
			}
			if len(t.AllowedPubkeys) == 0 {
				return fmt.Errorf("transport %q: allowed_pubkeys required", t.ID)
			}
		case "http":
			if _, _, err := net.SplitHostPort(t.Listen); err != nil {
				return fmt.Errorf("transport %q: listen %q: %w", t.ID, t.Listen, err)
			}
		case "email":
			if t.Host == "" || t.Username == "" || t.Password == "" {
				return fmt.Errorf("transport %q: host, username, password required", t.ID)
			}
		case "mock":
			// no extra validation
		default:
			return fmt.Errorf("transport %q: unknown type %s", t.ID, t.Type)
		}
	}
	return nil
}
