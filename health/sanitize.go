package health

import "regexp"

// Applied in order: URLs contain paths and ports.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\b(?:https?|wss?|nats|mqtts?|tcp|ssl|tls)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`(?i)(password|passwd|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// Sanitize strips endpoints, addresses and credentials from a message
// before the admin surface exposes it. Serial device paths become [PATH],
// broker URLs become [URL].
func Sanitize(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}
