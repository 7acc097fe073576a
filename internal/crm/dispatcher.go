package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/metrics"
	"golang.org/x/time/rate"
)

var ErrBreakerOpen = errors.New("closeio: circuit open")

// DispatcherOpts tunes the per-credential request pacing.
type DispatcherOpts struct {
	RPS           float64
	Burst         int
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
}

// Dispatcher paces and guards every HTTP call made with one API key.
type Dispatcher struct {
	apiKey  string
	limiter *rate.Limiter
	breaker *Breaker
	client  *http.Client
}

func NewDispatcher(apiKey string, opts DispatcherOpts) *Dispatcher {
	if opts.RPS <= 0 {
		opts.RPS = 4
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	label := CredentialLabel(apiKey)
	breaker := NewBreaker(opts.FailThreshold, opts.OpenFor)
	breaker.OnChange(func(s BreakerState) {
		metrics.BreakerState.WithLabelValues(label).Set(float64(s))
		metrics.BreakerTransitions.WithLabelValues(label, s.String()).Inc()
	})
	metrics.BreakerState.WithLabelValues(label).Set(float64(BreakerClosed))

	return &Dispatcher{
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		breaker: breaker,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

// CredentialLabel masks an API key down to its last four characters so it
// can label metrics.
func CredentialLabel(apiKey string) string {
	if len(apiKey) <= 4 {
		return "****"
	}
	return "****" + apiKey[len(apiKey)-4:]
}

// Do waits for a rate token, then sends req with the dispatcher's
// credentials. 5xx and transport errors count against the breaker.
func (d *Dispatcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %w", err)
	}
	if !d.breaker.TryAcquire() {
		return nil, ErrBreakerOpen
	}

	req.SetBasicAuth(d.apiKey, "")
	res, err := d.client.Do(req.WithContext(ctx))
	if err != nil {
		d.breaker.OnFailure()
		return nil, err
	}
	if res.StatusCode >= 500 {
		d.breaker.OnFailure()
	} else {
		d.breaker.OnSuccess()
	}
	return res, nil
}

// Dispatchers hands out one Dispatcher per API key so every client built
// for the same credential shares its rate budget.
type Dispatchers struct {
	mu   sync.Mutex
	opts DispatcherOpts
	byID map[string]*Dispatcher
}

func NewDispatchers(opts DispatcherOpts) *Dispatchers {
	return &Dispatchers{opts: opts, byID: make(map[string]*Dispatcher)}
}

func (p *Dispatchers) For(apiKey string) *Dispatcher {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.byID[apiKey]
	if !ok {
		d = NewDispatcher(apiKey, p.opts)
		p.byID[apiKey] = d
	}
	return d
}
