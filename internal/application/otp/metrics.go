package otp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otp_issued_total",
			Help: "Total OTP codes persisted",
		},
	)

	otpIssueRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issue_rejected_total",
			Help: "Total OTP issuance requests rejected",
		},
		[]string{"reason"},
	)

	otpVerifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verify_total",
			Help: "Total OTP verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	otpMailDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otp_mail_send_duration_seconds",
			Help:    "Outbound OTP email duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
)
