package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type LatencyStats struct {
	Service     string  `json:"service"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type OutcomeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Services    []LatencyStats `json:"services"`
	Outcomes    []OutcomeCount `json:"outcomes,omitempty"`
}

// latencyWindow keeps the last maxSamples latencies per upstream service.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	services   map[string]*latencyRing
	outcomes   map[string]int
}

type latencyRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		services:   make(map[string]*latencyRing),
		outcomes:   make(map[string]int),
	}
}

func (w *latencyWindow) Observe(service string, ms float64) {
	if service == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.services[service]
	if !ok {
		ring = &latencyRing{values: make([]float64, w.maxSamples)}
		w.services[service] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *latencyWindow) ObserveOutcome(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[name]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.services))
	for service := range w.services {
		keys = append(keys, service)
	}
	sort.Strings(keys)

	services := make([]LatencyStats, 0, len(keys))
	for _, service := range keys {
		ring := w.services[service]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, ring.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		services = append(services, LatencyStats{
			Service:     service,
			Samples:     n,
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: serviceTargetP95MS(service),
		})
	}

	names := make([]string, 0, len(w.outcomes))
	for name := range w.outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	outcomes := make([]OutcomeCount, 0, len(names))
	for _, name := range names {
		if c := w.outcomes[name]; c > 0 {
			outcomes = append(outcomes, OutcomeCount{Name: name, Count: c})
		}
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Services:    services,
		Outcomes:    outcomes,
	}
}

func (w *latencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.services = make(map[string]*latencyRing)
	w.outcomes = make(map[string]int)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func serviceTargetP95MS(service string) float64 {
	switch service {
	case ServiceOAuth:
		return 800
	case ServiceSynthesize:
		return 2500
	case ServiceRecognize:
		return 3000
	case ServiceTranscode:
		return 1500
	default:
		return 0
	}
}
