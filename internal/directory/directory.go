// Package directory provides the address-book sources the refresh pipeline
// reads from: a CardDAV server, a .vcf export over HTTP, or a local file.
package directory

import (
	"fmt"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
)

// Open returns the directory client selected by s.Source. It satisfies
// engine.Connector.
func Open(s *config.Settings) (engine.DirectoryClient, error) {
	switch s.Source {
	case config.SourceCardDAV, "":
		c, err := NewCardDAVClient(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.SourceWeb:
		c, err := NewWebClient(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.SourceLocal:
		return &LocalClient{Path: s.LocalPath}, nil
	default:
		return nil, fmt.Errorf("%s: %q", config.ErrSourceUnsupported, s.Source)
	}
}
