package http

import (
	"github.com/go-otp-nosql/internal/application/otp"
	"github.com/go-otp-nosql/internal/pkg/clock"
)

// Deps holds all infrastructure dependencies for the router.
// Guard and Events are optional; leave them nil (not a typed nil pointer)
// when Redis or SNS are not configured.
type Deps struct {
	Store     otp.Store
	Flags     otp.FlagStore
	Mailer    otp.MailSender
	Generator otp.CodeGenerator
	Clock     clock.Clocker
	Guard     otp.IssueGuard
	Events    otp.EventPublisher
}
