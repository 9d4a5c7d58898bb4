// Package discovery provides the builtin host discovery tasks: ICMP ping
// sweeps and TCP port probing.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/aegis-sec/aegis/pkg/netutil"
	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/go-ping/ping"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingCount       = 1
	defaultPingInterval    = time.Second
	defaultPacketTimeout   = time.Second
	defaultPingConcurrency = 50
)

// PingResult is the structured output of a ping sweep.
type PingResult struct {
	LiveHosts []string `json:"live_hosts"`
	Probed    int      `json:"probed"`
}

// pinger abstracts the go-ping pinger so tests can substitute a fake.
type pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics
}

type pingerFactory func(addr string, count int, interval, timeout time.Duration, privileged bool) (pinger, error)

// PingTask detects live hosts by sending ICMP echo requests.
type PingTask struct {
	newPinger pingerFactory
}

// NewPingTask creates a ping task backed by go-ping.
func NewPingTask() *PingTask {
	return &PingTask{newPinger: realPinger}
}

func realPinger(addr string, count int, interval, timeout time.Duration, privileged bool) (pinger, error) {
	p, err := ping.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	p.Count = count
	p.Interval = interval
	p.Timeout = timeout
	p.SetPrivileged(privileged)
	return p, nil
}

// Validate implements the task contract.
func (t *PingTask) Validate(params task.Params) error {
	ve := &task.ValidationError{TaskName: "ping-sweep"}
	if len(params.StringSlice("targets")) == 0 {
		ve.Add("targets", "at least one target is required")
	}
	if params.Has("concurrency") && params.Int("concurrency") < 1 {
		ve.Add("concurrency", "must be at least 1")
	}
	if params.Has("count") && params.Int("count") < 1 {
		ve.Add("count", "must be at least 1")
	}
	return ve.OrNil()
}

// Execute pings every expanded target concurrently and reports the hosts
// that answered.
func (t *PingTask) Execute(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error) {
	logger := log.With().Str("task", "ping-sweep").Logger()

	targets, err := netutil.ExpandTargets(params.StringSlice("targets"))
	if err != nil {
		return nil, &task.ExecError{TaskName: "ping-sweep", Err: err}
	}
	if !params.Bool("allow_loopback") {
		targets = netutil.FilterLoopback(targets)
	}

	count := paramOr(params, "count", defaultPingCount)
	concurrency := paramOr(params, "concurrency", defaultPingConcurrency)
	interval := durationOr(params, "interval", defaultPingInterval)
	packetTimeout := durationOr(params, "packet_timeout", defaultPacketTimeout)
	privileged := params.Bool("privileged")

	logger.Info().
		Int("targets", len(targets)).
		Int("concurrency", concurrency).
		Msg("ping sweep started")

	var (
		mu   sync.Mutex
		live []string
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	for _, target := range targets {
		if ctx.Err() != nil {
			wg.Wait()
			return nil, &task.CancelledError{TaskName: "ping-sweep"}
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			p, err := t.newPinger(addr, count, interval, packetTimeout, privileged)
			if err != nil {
				logger.Debug().Str("host", addr).Err(err).Msg("pinger setup failed")
				return
			}

			done := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					p.Stop()
				case <-done:
				}
			}()

			runErr := p.Run()
			close(done)
			if runErr != nil {
				logger.Debug().Str("host", addr).Err(runErr).Msg("ping failed")
				return
			}

			if p.Statistics().PacketsRecv > 0 {
				mu.Lock()
				live = append(live, addr)
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, &task.CancelledError{TaskName: "ping-sweep"}
	}

	logger.Info().Int("live", len(live)).Int("probed", len(targets)).Msg("ping sweep finished")
	return &PingResult{LiveHosts: live, Probed: len(targets)}, nil
}

// PingDescriptor describes the ping-sweep task for registration.
func PingDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:           "ping-sweep",
		Description:    "Detects live hosts using ICMP echo requests",
		Kind:           "discovery",
		Version:        "0.1.0",
		RequiredParams: []string{"targets"},
		OptionalParams: []string{"count", "interval", "packet_timeout", "privileged", "concurrency", "allow_loopback"},
		Tags:           []string{"discovery", "host", "icmp"},
		Factory:        func() task.Task { return NewPingTask() },
	}
}

func paramOr(params task.Params, key string, fallback int) int {
	if !params.Has(key) {
		return fallback
	}
	return params.Int(key)
}

func durationOr(params task.Params, key string, fallback time.Duration) time.Duration {
	if !params.Has(key) {
		return fallback
	}
	if d := params.Duration(key); d > 0 {
		return d
	}
	return fallback
}
