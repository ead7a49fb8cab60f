// Copyright (c) 2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics keeps a small set of session counters (jobs started,
// finished, stopped, killed) and renders them in the Prometheus text
// exposition format, for the "stats" built-in to print. There is no HTTP
// scrape endpoint: the shell has no remote-supervision surface, so the
// counters are only ever read out locally.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/expfmt"
)

// Registry is the set of counters a running shell maintains about its job
// table over the lifetime of the process.
type Registry struct {
	reg *prometheus.Registry

	JobsStarted  prometheus.Counter
	JobsFinished prometheus.Counter
	JobsStopped  prometheus.Counter
	JobsKilled   prometheus.Counter
}

// NewRegistry creates a Registry with all counters registered and at zero.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jsh_jobs_started_total",
			Help: "Number of jobs (single commands or pipelines) started.",
		}),
		JobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jsh_jobs_finished_total",
			Help: "Number of background jobs reported as finished after a command.",
		}),
		JobsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jsh_jobs_stopped_total",
			Help: "Number of times a foreground job was suspended to the background.",
		}),
		JobsKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jsh_jobs_killed_total",
			Help: "Number of jobs terminated via the kill built-in.",
		}),
	}
	r.reg.MustRegister(r.JobsStarted, r.JobsFinished, r.JobsStopped, r.JobsKilled)
	return r
}

// Dump renders all registered counters in the Prometheus text exposition
// format.
func (r *Registry) Dump() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
