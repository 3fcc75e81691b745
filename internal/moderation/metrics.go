package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evaluationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_moderation_evaluations",
	Help: "Number of moderation evaluations",
}, []string{"target"})

var ruleMatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_moderation_rule_matches",
	Help: "Number of rule matches",
}, []string{"rule"})

var ruleErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_moderation_rule_errors",
	Help: "Number of rule checks that failed or panicked",
}, []string{"rule"})

var actionAppliedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_moderation_actions_applied",
	Help: "Number of manual moderation actions applied",
}, []string{"action"})
