package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rotations_total",
			Help: "Total number of successful refresh token rotations",
		},
		[]string{"domain"},
	)

	replayDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_replays_total",
			Help: "Total number of refresh token replays detected",
		},
		[]string{"domain"},
	)
)
