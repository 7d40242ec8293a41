package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates a loaded Config comprehensively, with clear,
// component-scoped error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast, stopping at the
// first error. Order matters: later checks assume earlier ones passed.
func (v *Validator) ValidateAll() error {
	if err := v.validatePort(); err != nil {
		return fmt.Errorf("port validation failed: %w", err)
	}
	if err := v.validateLifecycle(); err != nil {
		return fmt.Errorf("lifecycle validation failed: %w", err)
	}
	if err := v.validateProjects(); err != nil {
		return fmt.Errorf("project validation failed: %w", err)
	}
	if err := v.validateNotifiers(); err != nil {
		return fmt.Errorf("notifier validation failed: %w", err)
	}
	if err := v.validateReactions(); err != nil {
		return fmt.Errorf("reaction validation failed: %w", err)
	}
	if err := v.validateRouting(); err != nil {
		return fmt.Errorf("notification routing validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validatePort() error {
	if v.cfg.Port < 1 || v.cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", v.cfg.Port)
	}
	return nil
}

func (v *Validator) validateLifecycle() error {
	l := v.cfg.Lifecycle
	if l == nil {
		return fmt.Errorf("lifecycle configuration is nil")
	}
	if l.WorkerCount < 1 || l.WorkerCount > 256 {
		return fmt.Errorf("worker_count must be between 1 and 256, got %d", l.WorkerCount)
	}
	if l.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", l.PollInterval)
	}
	if l.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %v", l.CallTimeout)
	}
	if l.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must be non-negative, got %v", l.ShutdownGrace)
	}
	if l.StuckAfter <= 0 {
		return fmt.Errorf("stuck_after must be positive, got %v", l.StuckAfter)
	}
	if l.NotifierQueueBound < 1 {
		return fmt.Errorf("notifier_queue_bound must be at least 1, got %d", l.NotifierQueueBound)
	}
	return nil
}

func (v *Validator) validateProjects() error {
	seenPrefixes := make(map[string]string)

	for id, p := range v.cfg.Projects.GetAll() {
		if p.Name == "" {
			return NewValidationError("project", id, "name", fmt.Errorf("required"))
		}
		if p.Repo == "" {
			return NewValidationError("project", id, "repo", fmt.Errorf("required"))
		}
		if p.Path == "" {
			return NewValidationError("project", id, "path", fmt.Errorf("required"))
		}
		if p.SessionPrefix == "" {
			return NewValidationError("project", id, "session_prefix", fmt.Errorf("required"))
		}
		if strings.ContainsAny(p.SessionPrefix, "/. \t\n") {
			return NewValidationError("project", id, "session_prefix", fmt.Errorf("must not contain '/', '.', or whitespace"))
		}
		if existing, ok := seenPrefixes[p.SessionPrefix]; ok {
			return NewValidationError("project", id, "session_prefix", fmt.Errorf("prefix %q already used by project %q", p.SessionPrefix, existing))
		}
		seenPrefixes[p.SessionPrefix] = id

		for status, rule := range p.Reactions {
			if err := v.validateReactionRule(status, rule, "project", id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) validateNotifiers() error {
	for name, n := range v.cfg.Notifiers.GetAll() {
		if n.Plugin == "" {
			return NewValidationError("notifier", name, "plugin", fmt.Errorf("required"))
		}
		if n.Plugin == "webhook" {
			raw, _ := n.Settings["url"].(string)
			if raw == "" {
				return NewValidationError("notifier", name, "url", fmt.Errorf("required for webhook notifier"))
			}
			u, err := url.Parse(raw)
			if err != nil {
				return NewValidationError("notifier", name, "url", fmt.Errorf("invalid URL: %w", err))
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return NewValidationError("notifier", name, "url", fmt.Errorf("scheme must be http or https, got %q", u.Scheme))
			}
		}
	}
	return nil
}

func (v *Validator) validateReactions() error {
	for status, rule := range v.cfg.Reactions {
		if err := v.validateReactionRule(status, rule, "reactions", string(status)); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateReactionRule(status Status, rule ReactionRule, component, id string) error {
	if !status.IsValid() {
		return NewValidationError(component, id, "status", fmt.Errorf("invalid status: %s", status))
	}
	if !rule.Action.IsValid() {
		return NewValidationError(component, id, "action", fmt.Errorf("invalid reaction kind: %s", rule.Action))
	}
	if rule.Action == ReactionAutoMerge && rule.Strategy != "" && !rule.Strategy.IsValid() {
		return NewValidationError(component, id, "strategy", fmt.Errorf("invalid merge strategy: %s", rule.Strategy))
	}
	if rule.Retries < 0 {
		return NewValidationError(component, id, "retries", fmt.Errorf("must be non-negative"))
	}
	if rule.Priority != "" && !rule.Priority.IsValid() {
		return NewValidationError(component, id, "priority", fmt.Errorf("invalid priority: %s", rule.Priority))
	}
	return nil
}

func (v *Validator) validateRouting() error {
	notifiers := v.cfg.Notifiers.GetAll()
	for priority, names := range v.cfg.NotificationRouting {
		if !priority.IsValid() {
			return NewValidationError("notification_routing", string(priority), "", fmt.Errorf("invalid priority"))
		}
		for _, name := range names {
			if _, ok := notifiers[name]; !ok {
				return NewValidationError("notification_routing", string(priority), "", fmt.Errorf("notifier %q not declared", name))
			}
		}
	}
	return nil
}
