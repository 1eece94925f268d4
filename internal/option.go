package internal

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	registry *prometheus.Registry
	consent  bool
	out      io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRegistry sets the registry metrics are registered on and served from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *application) {
		a.registry = reg
	}
}

// WithConsent grants consent to the legacy migration regardless of
// migration.auto_consent.
func WithConsent(consent bool) Option {
	return func(a *application) {
		a.consent = consent
	}
}

// WithOutput sets where user-facing reports are written.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}
