package source

import (
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Options configures adapters built by a Registry.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Factory builds a fresh adapter instance for one job.
type Factory func(opts Options, logger *zap.Logger) Source

// Registry maps source hosts to adapter factories. One Registry is built
// per worker context so adapter setup cost is paid once per worker, while
// the adapter instances themselves stay job-scoped.
type Registry struct {
	opts   Options
	byHost map[string]Factory
	logger *zap.Logger
}

// NewRegistry builds a Registry with every bundled adapter registered.
func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	r := &Registry{
		opts:   opts,
		byHost: make(map[string]Factory),
		logger: logger,
	}
	r.Register("fanmtl.com", NewFanMTL)
	return r
}

// Register binds a host (without the www prefix) to a factory.
func (r *Registry) Register(host string, f Factory) {
	r.byHost[host] = f
}

// For returns a fresh adapter for the identifier's host.
func (r *Registry) For(rawURL string) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse identifier %q", rawURL)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return nil, errors.Newf("identifier %q has no host", rawURL)
	}
	f, ok := r.byHost[host]
	if !ok {
		return nil, errors.Newf("no source adapter for host %q", host)
	}
	return f(r.opts, r.logger.With(zap.String("source", host))), nil
}

// Hosts lists the registered hosts, for the status endpoint.
func (r *Registry) Hosts() []string {
	out := make([]string, 0, len(r.byHost))
	for h := range r.byHost {
		out = append(out, h)
	}
	return out
}
