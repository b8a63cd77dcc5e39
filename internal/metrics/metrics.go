// Package metrics exposes Prometheus collectors for the completion engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the collectors. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	ticks             prometheus.Counter
	tickDuration      prometheus.Histogram
	groupsClaimed     prometheus.Counter
	claimsLost        prometheus.Counter
	groupsArchived    prometheus.Counter
	computeFailures   prometheus.Counter
	archiveFailures   prometheus.Counter
	deleteFailures    prometheus.Counter
	notifications     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	activeConvs       prometheus.Gauge
	leadNotifications *prometheus.CounterVec
}

type Option func(*Manager)

func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{namespace: "anklav"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	counter := func(sub, name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{Namespace: m.namespace, Subsystem: sub, Name: name, Help: help})
	}

	m.ticks = counter("scheduler", "ticks_total", "Scheduler scans run, failed ones included")
	m.tickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one scheduler scan",
		Buckets:   prometheus.DefBuckets,
	})
	m.groupsClaimed = counter("scheduler", "groups_claimed_total", "Groups claimed for processing")
	m.claimsLost = counter("scheduler", "claims_lost_total", "Claim attempts lost to another claimant")
	m.groupsArchived = counter("scheduler", "groups_archived_total", "Groups archived after processing")
	m.computeFailures = counter("scheduler", "compute_failures_total", "Claimed groups whose allocation could not be computed")
	m.archiveFailures = counter("scheduler", "archive_failures_total", "Claimed groups left unarchived after an archive failure")
	m.deleteFailures = counter("scheduler", "delete_failures_total", "Archived groups whose active record could not be deleted")
	m.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "gateway",
		Name:      "notifications_total",
		Help:      "Result notifications by outcome",
	}, []string{"outcome"})
	m.transitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "conversation",
		Name:      "transitions_total",
		Help:      "Conversation state transitions by target state",
	}, []string{"state"})
	m.activeConvs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "conversation",
		Name:      "active",
		Help:      "Conversations not yet in a terminal state",
	})
	m.leadNotifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "conversation",
		Name:      "leads_total",
		Help:      "Lead notifications by outcome",
	}, []string{"outcome"})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Manager) GroupClaimed() {
	if m != nil {
		m.groupsClaimed.Inc()
	}
}

func (m *Manager) ClaimLost() {
	if m != nil {
		m.claimsLost.Inc()
	}
}

func (m *Manager) GroupArchived() {
	if m != nil {
		m.groupsArchived.Inc()
	}
}

func (m *Manager) ComputeFailed() {
	if m != nil {
		m.computeFailures.Inc()
	}
}

func (m *Manager) ArchiveFailed() {
	if m != nil {
		m.archiveFailures.Inc()
	}
}

func (m *Manager) DeleteFailed() {
	if m != nil {
		m.deleteFailures.Inc()
	}
}

// Notification records a result dispatch outcome: sent, failed or skipped.
func (m *Manager) Notification(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) Transition(state string) {
	if m != nil {
		m.transitions.WithLabelValues(state).Inc()
	}
}

func (m *Manager) SetActiveConversations(n int) {
	if m != nil {
		m.activeConvs.Set(float64(n))
	}
}

func (m *Manager) Lead(outcome string) {
	if m != nil {
		m.leadNotifications.WithLabelValues(outcome).Inc()
	}
}
