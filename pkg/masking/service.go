// Package masking redacts credential-shaped values out of session
// records before they are persisted (§4.4): bearer tokens, provider API
// keys, Slack webhook URLs, and raw Kubernetes Secret manifests that a
// runtime or agent may have echoed into metadata.
//
// Adapted from the teacher's masking service: the compiled-pattern plus
// code-masker two-phase design is kept, but the per-MCP-server pattern
// registry and alert-payload pattern groups are gone — this package has
// one fixed pattern set applied uniformly, since an orchestrator session
// record has no per-server config to scope custom patterns against.
package masking

import "log/slog"

// Masker is a code-based masker that needs structural awareness beyond
// regex matching (e.g. parsing YAML/JSON to mask only Secret resources).
type Masker interface {
	Name() string
	AppliesTo(data string) bool
	Mask(data string) string
}

// Service applies masking to session metadata and runtime handle data
// before Store.Save persists them. Stateless aside from its compiled
// patterns; safe for concurrent use.
type Service struct {
	patterns    map[string]*CompiledPattern
	codeMaskers []Masker
}

// NewService compiles the built-in pattern set and registers the
// built-in code maskers.
func NewService() *Service {
	s := &Service{
		patterns:    compileBuiltinPatterns(),
		codeMaskers: []Masker{&KubernetesSecretMasker{}},
	}
	slog.Info("masking service initialized", "patterns", len(s.patterns), "code_maskers", len(s.codeMaskers))
	return s
}

// MaskString applies every code masker, then every regex pattern, to s
// and returns the result. Defensive: a masker that errors internally
// leaves its input untouched rather than corrupting the record.
func (s *Service) MaskString(value string) string {
	if value == "" {
		return value
	}
	masked := value
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// MaskMetadata returns a copy of meta with every value run through
// MaskString. Keys are left untouched — only values are free-form enough
// to carry leaked credentials.
func (s *Service) MaskMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = s.MaskString(v)
	}
	return out
}

// MaskValues masks every string-typed value in m, leaving non-string
// values (numbers, bools, nested structures) untouched — session
// metadata and runtime handle data are untyped maps decoded from JSON
// or set by a plugin, so only the string leaves are credential-shaped.
func (s *Service) MaskValues(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok {
			out[k] = s.MaskString(str)
			continue
		}
		out[k] = v
	}
	return out
}
