package log

import (
	"log/slog"
	"strings"
)

// KeyPhoneNumber is the attribute key for phone numbers. Values under it are
// masked by every logger built with New.
const KeyPhoneNumber = "phone_number"

// DefaultRedactKeys is used when Options.RedactKeys is nil.
var DefaultRedactKeys = []string{KeyPhoneNumber}

// MaskPhone keeps the last four characters so operators can still correlate
// log lines with a customer report. Short values are masked entirely.
func MaskPhone(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 6 {
		return "***"
	}
	return "***" + string(r[len(r)-4:])
}

// redactAttr returns a slog ReplaceAttr func masking string values under keys.
func redactAttr(keys []string) func([]string, slog.Attr) slog.Attr {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if _, ok := set[a.Key]; !ok {
			return a
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindString {
			return slog.String(a.Key, MaskPhone(v.String()))
		}
		return slog.String(a.Key, "***")
	}
}
