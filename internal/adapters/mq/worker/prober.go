package worker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

// Default probe configuration.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 4 * time.Second

	healthPath = "/health"
)

// Prober watches the server health endpoint and signals when connectivity
// comes back.
type Prober struct {
	url      string
	client   *http.Client
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool

	logger logger.Logger
}

// NewProber creates a Prober for the server at baseURL.
func NewProber(baseURL string, opts ...ProberOption) *Prober {
	p := &Prober{
		url:      strings.TrimRight(baseURL, "/") + healthPath,
		client:   http.DefaultClient,
		clock:    clock.Real(),
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		logger:   logger.Get().Named("prober"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Online reports the result of the latest probe.
func (p *Prober) Online() bool { return p.online.Load() }

// Probe performs one health check. Any 2xx answer within the timeout counts
// as online.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run probes immediately and then every interval, sending on signals at
// each offline to online transition. The first successful probe counts as
// a transition. Sends never block; a pending signal already covers the
// next replay. Run returns when ctx is done.
func (p *Prober) Run(ctx context.Context, signals chan<- struct{}) {
	for {
		up := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		was := p.online.Swap(up)
		switch {
		case up && !was:
			p.logger.Info(ctx, "server reachable", logger.String("url", p.url))
			select {
			case signals <- struct{}{}:
			default:
			}
		case !up && was:
			p.logger.Warn(ctx, "server unreachable", logger.String("url", p.url))
		}

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}
}
