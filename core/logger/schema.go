package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// status keeps free-form values; outcome only admits the closed set below.
var knownOutcomes = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"skip":         {},
	"blocked":      {},
	"rate_limited": {},
	"cancelled":    {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := knownOutcomes[outcome]
	return outcome, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"op",
	"cb_key",
	"command",
	"state",
	"outcome",
	"duration_ms",
	"key",
	"batch",
	"batches",
	"recipients",
	"success",
	"failed",
	"attempt",
	"attempts",
	"retry_after_ms",
	"amount",
	"balance",
	"gb",
	"panel",
	"payload",
	"lang",
	"username",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"host",
	"db",
	"err",
	"err_code",
	"cause",
}
