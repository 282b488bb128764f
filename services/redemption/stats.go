package redemption

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the engine's processing counters. It is constructed once and
// injected into every component that reports on progress; nothing reads or
// writes package-level state. The atomic fields back the JSON snapshot
// endpoint, the prometheus counters feed /metrics.
type Stats struct {
	solverInvocations atomic.Int64
	solverValidFormat atomic.Int64
	submissions       atomic.Int64
	serverAccepted    atomic.Int64
	serverRejected    atomic.Int64
	membersProcessed  atomic.Int64
	processingNanos   atomic.Int64

	promSolverInvocations prometheus.Counter
	promSolverValidFormat prometheus.Counter
	promSubmissions       prometheus.Counter
	promServerAccepted    prometheus.Counter
	promServerRejected    prometheus.Counter
	promMembersProcessed  prometheus.Counter
	promProcessingSeconds prometheus.Counter
}

func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		promSolverInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_solver_invocations_total",
			Help: "Captcha solver invocations.",
		}),
		promSolverValidFormat: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_solver_valid_format_total",
			Help: "Solver results that passed the local format gate.",
		}),
		promSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_captcha_submissions_total",
			Help: "Captcha answers submitted to the rewards service.",
		}),
		promServerAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_captcha_accepted_total",
			Help: "Submissions the server accepted past the captcha check.",
		}),
		promServerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_captcha_rejected_total",
			Help: "Submissions the server rejected as wrong or expired.",
		}),
		promMembersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_members_processed_total",
			Help: "Members processed across all redemption runs.",
		}),
		promProcessingSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftops_processing_seconds_total",
			Help: "Wall-clock seconds spent inside redemption runs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.promSolverInvocations,
			s.promSolverValidFormat,
			s.promSubmissions,
			s.promServerAccepted,
			s.promServerRejected,
			s.promMembersProcessed,
			s.promProcessingSeconds,
		)
	}
	return s
}

func (s *Stats) IncSolverInvocations() {
	s.solverInvocations.Add(1)
	s.promSolverInvocations.Inc()
}

func (s *Stats) IncSolverValidFormat() {
	s.solverValidFormat.Add(1)
	s.promSolverValidFormat.Inc()
}

func (s *Stats) IncSubmissions() {
	s.submissions.Add(1)
	s.promSubmissions.Inc()
}

func (s *Stats) IncServerAccepted() {
	s.serverAccepted.Add(1)
	s.promServerAccepted.Inc()
}

func (s *Stats) IncServerRejected() {
	s.serverRejected.Add(1)
	s.promServerRejected.Inc()
}

func (s *Stats) AddMembersProcessed(n int) {
	s.membersProcessed.Add(int64(n))
	s.promMembersProcessed.Add(float64(n))
}

func (s *Stats) AddProcessingTime(d time.Duration) {
	s.processingNanos.Add(int64(d))
	s.promProcessingSeconds.Add(d.Seconds())
}

type StatsSnapshot struct {
	SolverInvocations int64   `json:"solver_invocations"`
	SolverValidFormat int64   `json:"solver_valid_format"`
	Submissions       int64   `json:"submissions"`
	ServerAccepted    int64   `json:"server_accepted"`
	ServerRejected    int64   `json:"server_rejected"`
	MembersProcessed  int64   `json:"members_processed"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SolverInvocations: s.solverInvocations.Load(),
		SolverValidFormat: s.solverValidFormat.Load(),
		Submissions:       s.submissions.Load(),
		ServerAccepted:    s.serverAccepted.Load(),
		ServerRejected:    s.serverRejected.Load(),
		MembersProcessed:  s.membersProcessed.Load(),
		ProcessingSeconds: time.Duration(s.processingNanos.Load()).Seconds(),
	}
}
