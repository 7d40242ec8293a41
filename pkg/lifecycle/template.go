package lifecycle

import (
	"regexp"
	"strings"
	"text/template"
)

// placeholderPattern matches spec.md §6's reaction-template placeholder
// syntax: a bare {name}, not text/template's own double-brace {{name}}.
var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// defaultSendToAgentTemplate is the built-in send-to-agent message,
// populated with every placeholder spec.md §6 names. A project cannot
// currently override this per reaction rule — only the placeholder
// values change per session/observation.
const defaultSendToAgentTemplate = "Session {issue_id} (branch {branch}) entered a state that needs your attention. " +
	"PR: {pr_url}. Failing checks: {failing_checks}. Unresolved review comments: {review_comments}."

// renderReactionTemplate renders tmpl against data using the {name}
// placeholder syntax: every {name} whose name is a key of data is
// preprocessed into text/template's {{.name}} form and substituted: a
// {name} that is not a recognized placeholder is left untouched in the
// preprocessing pass, so it survives to the rendered output verbatim
// instead of erroring or rendering as "<no value>".
func renderReactionTemplate(tmpl string, data map[string]string) (string, error) {
	preprocessed := placeholderPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if _, ok := data[name]; !ok {
			return tok
		}
		return "{{." + name + "}}"
	})

	t, err := template.New("reaction").Parse(preprocessed)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
