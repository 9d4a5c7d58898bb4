package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aegis-sec/aegis/pkg/netutil"
	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/rs/zerolog/log"
)

const (
	defaultProbeTimeout     = time.Second
	defaultProbeConcurrency = 100
	defaultProbePorts       = "1-1024"
)

// HostPorts lists the open TCP ports found on one host.
type HostPorts struct {
	Host      string `json:"host"`
	OpenPorts []int  `json:"open_ports"`
}

// TCPProbeResult is the structured output of a TCP probe run.
type TCPProbeResult struct {
	Hosts     []HostPorts `json:"hosts"`
	TotalOpen int         `json:"total_open"`
}

// TCPProbeTask discovers open TCP ports via plain connect scans.
type TCPProbeTask struct{}

// NewTCPProbeTask creates a TCP probe task.
func NewTCPProbeTask() *TCPProbeTask { return &TCPProbeTask{} }

// Validate implements the task contract.
func (t *TCPProbeTask) Validate(params task.Params) error {
	ve := &task.ValidationError{TaskName: "tcp-probe"}
	if len(params.StringSlice("hosts")) == 0 {
		ve.Add("hosts", "at least one host is required")
	}
	if params.Has("ports") {
		if _, err := netutil.ParsePorts(portSpec(params)); err != nil {
			ve.Add("ports", err.Error())
		}
	}
	if params.Has("concurrency") && params.Int("concurrency") < 1 {
		ve.Add("concurrency", "must be at least 1")
	}
	return ve.OrNil()
}

// Execute probes every host/port pair and reports the open ports per host,
// hosts ordered as given and ports ascending.
func (t *TCPProbeTask) Execute(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error) {
	logger := log.With().Str("task", "tcp-probe").Logger()

	hosts, err := netutil.ExpandTargets(params.StringSlice("hosts"))
	if err != nil {
		return nil, &task.ExecError{TaskName: "tcp-probe", Err: err}
	}
	ports, err := netutil.ParsePorts(portSpec(params))
	if err != nil {
		return nil, &task.ExecError{TaskName: "tcp-probe", Err: err}
	}

	timeout := durationOr(params, "timeout", defaultProbeTimeout)
	concurrency := paramOr(params, "concurrency", defaultProbeConcurrency)

	logger.Info().
		Int("hosts", len(hosts)).
		Int("ports", len(ports)).
		Msg("tcp probe started")

	var (
		mu   sync.Mutex
		open = make(map[string][]int)
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)
	dialer := &net.Dialer{Timeout: timeout}

	for _, host := range hosts {
		for _, port := range ports {
			if ctx.Err() != nil {
				wg.Wait()
				return nil, &task.CancelledError{TaskName: "tcp-probe"}
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(host string, port int) {
				defer wg.Done()
				defer func() { <-sem }()

				addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
				conn, err := dialer.DialContext(ctx, "tcp", addr)
				if err != nil {
					return
				}
				conn.Close()

				mu.Lock()
				open[host] = append(open[host], port)
				mu.Unlock()
			}(host, port)
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, &task.CancelledError{TaskName: "tcp-probe"}
	}

	result := &TCPProbeResult{}
	for _, host := range hosts {
		ports, ok := open[host]
		if !ok {
			continue
		}
		sort.Ints(ports)
		result.Hosts = append(result.Hosts, HostPorts{Host: host, OpenPorts: ports})
		result.TotalOpen += len(ports)
	}

	logger.Info().Int("open", result.TotalOpen).Msg("tcp probe finished")
	return result, nil
}

// TCPProbeDescriptor describes the tcp-probe task for registration.
func TCPProbeDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:           "tcp-probe",
		Description:    "Discovers open TCP ports via connect scans",
		Kind:           "discovery",
		Version:        "0.1.0",
		RequiredParams: []string{"hosts"},
		OptionalParams: []string{"ports", "timeout", "concurrency"},
		Tags:           []string{"discovery", "port", "tcp"},
		Factory:        func() task.Task { return NewTCPProbeTask() },
	}
}

func portSpec(params task.Params) string {
	if !params.Has("ports") {
		return defaultProbePorts
	}
	if list := params.StringSlice("ports"); len(list) > 0 {
		return strings.Join(list, ",")
	}
	return params.String("ports")
}
