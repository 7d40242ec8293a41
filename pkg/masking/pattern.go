package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the uncompiled form of a credential-shaped pattern
// masked in every session record before persistence (§4.4).
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
	description string
}

// builtinPatterns is the fixed set of credential shapes this package
// knows how to redact. Unlike the teacher's MCP-server-scoped masking
// config (per-server custom patterns, pattern groups keyed by alert
// type), every session record here is masked identically — there is no
// per-server structure in runtime handle data or free-form metadata to
// key custom patterns off of.
var builtinPatterns = []builtinPattern{
	{
		name:        "bearer_token",
		pattern:     `(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`,
		replacement: "Bearer [MASKED_TOKEN]",
		description: "Authorization: Bearer <token> headers",
	},
	{
		name:        "github_token",
		pattern:     `\bgh[pousr]_[A-Za-z0-9]{20,}\b`,
		replacement: "[MASKED_GITHUB_TOKEN]",
		description: "GitHub personal access / app / refresh tokens",
	},
	{
		name:        "slack_token",
		pattern:     `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`,
		replacement: "[MASKED_SLACK_TOKEN]",
		description: "Slack bot/app/user OAuth tokens",
	},
	{
		name:        "webhook_url",
		pattern:     `https://hooks\.slack\.com/services/[A-Za-z0-9/]+`,
		replacement: "[MASKED_WEBHOOK_URL]",
		description: "Slack incoming webhook URLs",
	},
	{
		name:        "generic_credential_kv",
		pattern:     `(?i)\b(api[_-]?key|secret|password|token)\b\s*[:=]\s*["']?[A-Za-z0-9\-_.]{8,}["']?`,
		replacement: "$1=[MASKED]",
		description: "key=value pairs whose key name looks credential-shaped",
	},
}

// compileBuiltinPatterns compiles every builtinPattern, logging and
// skipping any that fail to compile rather than failing startup.
func compileBuiltinPatterns() map[string]*CompiledPattern {
	compiled := make(map[string]*CompiledPattern, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", p.name, "error", err)
			continue
		}
		compiled[p.name] = &CompiledPattern{
			Name:        p.name,
			Regex:       re,
			Replacement: p.replacement,
			Description: p.description,
		}
	}
	return compiled
}
