package discovery

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/mod/semver"
)

// MinimumVersion is the oldest backend profile version this client honors.
const MinimumVersion = "1.0.0"

// Capabilities answers feature queries for one backend from its profile.
// A missing, unreachable or too-old profile advertises no features.
type Capabilities struct {
	fetcher    Fetcher
	profileURL string
	minimum    string
	logger     *slog.Logger
}

// NewCapabilities builds feature lookup for the backend at baseURL.
func NewCapabilities(fetcher Fetcher, baseURL string, logger *slog.Logger) *Capabilities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capabilities{
		fetcher:    fetcher,
		profileURL: strings.TrimSuffix(baseURL, "/") + WellKnownPath,
		minimum:    MinimumVersion,
		logger:     logger,
	}
}

// Supports implements adapter.Capabilities.
func (c *Capabilities) Supports(ctx context.Context, feature string) bool {
	profile, err := c.fetcher.Fetch(ctx, c.profileURL)
	if err != nil {
		c.logger.Debug("backend profile unavailable", "url", c.profileURL, "error", err)
		return false
	}
	if profile.Missing {
		return false
	}
	if !Compatible(profile.Version, c.minimum) {
		c.logger.Warn("ignoring backend profile below minimum version",
			"url", c.profileURL,
			"version", profile.Version,
			"minimum", c.minimum,
		)
		return false
	}
	return profile.Has(feature)
}

// Compatible reports whether version is a valid semver at or above minimum.
func Compatible(version, minimum string) bool {
	v := normalizeVersion(version)
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, normalizeVersion(minimum)) >= 0
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
