// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/comanda/internal/logging"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// ProberConfig holds reachability probe settings.
type ProberConfig struct {
	// URL is the backend health endpoint to probe.
	URL string

	// Interval between probes. Default: 15s.
	Interval time.Duration

	// Timeout per probe. Default: 5s.
	Timeout time.Duration
}

// Prober periodically checks backend reachability and feeds the result
// into a Notifier. Any HTTP answer counts as reachable; only transport
// failure marks the backend unreachable. A 503 still proves the network
// path works.
type Prober struct {
	notifier *Notifier
	config   ProberConfig
	http     *http.Client

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewProber creates a reachability prober.
func NewProber(notifier *Notifier, config ProberConfig) *Prober {
	if config.Interval <= 0 {
		config.Interval = defaultProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProbeTimeout
	}
	return &Prober{
		notifier: notifier,
		config:   config,
		http:     &http.Client{Timeout: config.Timeout},
	}
}

// Start begins the probe loop. Idempotent.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	logging.Info().
		Str("url", p.config.URL).
		Dur("interval", p.config.Interval).
		Msg("Starting reachability prober")

	p.wg.Add(1)
	go p.probeLoop(ctx)
	return nil
}

// Stop stops the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("Reachability prober stopped")
}

func (p *Prober) probeLoop(ctx context.Context) {
	defer p.wg.Done()

	// Initial probe so startup does not wait a full interval.
	p.probe(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.config.URL, http.NoBody)
	if err != nil {
		logging.Error().Err(err).Msg("Invalid reachability probe URL")
		return
	}

	resp, err := p.http.Do(req)
	if err != nil {
		logging.Debug().Err(err).Msg("Reachability probe failed")
		p.notifier.SetReachable(false)
		return
	}
	_ = resp.Body.Close()

	p.notifier.SetReachable(true)
}
