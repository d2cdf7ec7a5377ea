package otp

import (
	"fmt"
	"time"
)

const emailSubject = "Your verification code"

func renderEmail(code string, ttl time.Duration) (subject, text, html string) {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	text = fmt.Sprintf("Your verification code: %s (expires in %d minutes)", code, minutes)
	html = fmt.Sprintf(`<p>Your verification code: <b style="font-size:20px">%s</b></p><p>Expires in %d minutes</p>`, code, minutes)
	return emailSubject, text, html
}
