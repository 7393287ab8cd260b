// Package prompts is the governed, versioned prompt store the compiler
// fetches its extractor prompt from.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/pgstore"
)

// store is the minimal persistence surface prompts.Manager needs, so tests
// can supply an in-memory fake instead of a live Postgres-backed Store.
type store interface {
	GetPrompt(ctx context.Context, slug string, version *int) (pgstore.PromptRecord, error)
	SavePrompt(ctx context.Context, slug, content, role, description string, metadata map[string]any) (int, error)
}

// Policy names the two governance allow-lists. Their membership is
// deployment policy, not a code constant — see SPEC_FULL.md's resolved open
// question — so Manager takes a Policy rather than hardcoding slugs.
type Policy struct {
	ApprovedSlugs map[string]bool
	CriticalSlugs map[string]bool
}

// DefaultPolicy mirrors the slugs the reference implementation shipped as
// examples; every binary under cmd/ passes it to New.
func DefaultPolicy() Policy {
	return Policy{
		ApprovedSlugs: map[string]bool{
			"nexus-compiler-system":      true,
			"nexus-cognition-synthesis":  true,
			"nexus-recall-query-rewrite": true,
		},
		CriticalSlugs: map[string]bool{
			"nexus-compiler-system": true,
		},
	}
}

// Manager is the Prompt Governance store: versioned, cached, fail-closed.
type Manager struct {
	store  store
	policy Policy
	audit  *audit.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New builds a Manager over store s, governed by policy.
func New(s store, policy Policy, auditLog *audit.Logger) *Manager {
	return &Manager{
		store:  s,
		policy: policy,
		audit:  auditLog,
		cache:  make(map[string]string),
	}
}

func cacheKey(slug string, version *int) string {
	if version == nil {
		return slug + ":latest"
	}
	return fmt.Sprintf("%s:%d", slug, *version)
}

// GetPrompt retrieves slug (exact version, or latest if nil). If missing:
// an approved slug with a fallback returns the fallback (logging
// PROMPT_FALLBACK_USED); a non-approved slug additionally logs
// PROMPT_NOT_APPROVED before the same fallback rule applies; a critical
// slug with no fallback fails closed with GovernanceViolation.
func (m *Manager) GetPrompt(ctx context.Context, slug string, version *int, fallback string) (string, error) {
	key := cacheKey(slug, version)

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	rec, err := m.store.GetPrompt(ctx, slug, version)
	if err == nil {
		m.mu.Lock()
		m.cache[key] = rec.Content
		m.mu.Unlock()
		m.emit(audit.PromptLoaded, slug, audit.ActionAccepted, "")
		return rec.Content, nil
	}
	if !errors.Is(err, pgstore.ErrPromptNotFound) {
		return "", err
	}

	if !m.policy.ApprovedSlugs[slug] {
		m.emit(audit.PromptNotApproved, slug, audit.ActionSkipped,
			fmt.Sprintf("prompt slug '%s' is not in the approved set", slug))
	}

	// A critical slug with an explicit fallback is still allowed to proceed —
	// criticality only forbids proceeding with nothing below.
	if fallback != "" {
		m.emit(audit.PromptFallbackUsed, slug, audit.ActionAccepted,
			fmt.Sprintf("prompt '%s' used hardcoded fallback", slug))
		return fallback, nil
	}

	if m.policy.CriticalSlugs[slug] {
		m.emit(audit.PromptGovernanceViolation, slug, audit.ActionBlocked,
			fmt.Sprintf("critical prompt missing: %s", slug))
		return "", fmt.Errorf("%w: critical prompt %q missing and no fallback provided", domain.ErrGovernanceViolation, slug)
	}

	return "", fmt.Errorf("%w: prompt %q missing from governance store and no fallback provided", domain.ErrGovernanceViolation, slug)
}

// SavePrompt inserts the next version for slug and invalidates the cache.
func (m *Manager) SavePrompt(ctx context.Context, slug, content, role, description string, metadata map[string]any) (int, error) {
	next, err := m.store.SavePrompt(ctx, slug, content, role, description, metadata)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	delete(m.cache, cacheKey(slug, nil))
	delete(m.cache, cacheKey(slug, &next))
	m.mu.Unlock()

	return next, nil
}

func (m *Manager) emit(t audit.EventType, slug string, action audit.DecisionAction, reason string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Emit(audit.Event{
		EventType: t,
		Component: "governance",
		Agent:     "prompts.Manager",
		Decision:  audit.Decision{Action: action, Reason: reason},
		Metadata:  map[string]any{"slug": slug},
	})
}
