package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/patrickmn/go-cache"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/money"
	"github.com/lumiere-salon/api/internal/repositories"
)

const (
	defaultPolicyCacheTTL = 30 * time.Second
	currentPolicyCacheKey = "policy:current"
	maxPolicySummaryRunes = 2000
)

var (
	// ErrPolicyInvalidInput signals an update that fails validation.
	ErrPolicyInvalidInput = errors.New("policy: invalid input")
	// ErrPolicyConflict signals a concurrent update or a stale expected version.
	ErrPolicyConflict = errors.New("policy: conflict")
	// ErrPolicyUnavailable signals that the policy store cannot be reached.
	ErrPolicyUnavailable = errors.New("policy: unavailable")
)

// PolicyServiceDeps bundles collaborators required to construct the policy service.
type PolicyServiceDeps struct {
	Policies       repositories.PolicyRepository
	Defaults       RefundPolicyConfig
	DefaultSummary string
	CacheTTL       time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type policyService struct {
	policies       repositories.PolicyRepository
	defaults       RefundPolicyConfig
	defaultSummary string
	cache          *cache.Cache
	sanitizer      *bluemonday.Policy
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// NewPolicyService constructs a PolicyService that falls back to the configured defaults until a policy
// has been saved.
func NewPolicyService(deps PolicyServiceDeps) (PolicyService, error) {
	if deps.Policies == nil {
		return nil, errors.New("policy service: policy repository is required")
	}
	defaults := deps.Defaults
	if defaults.Currency == "" {
		defaults = domain.DefaultRefundPolicyConfig()
	}
	if err := ValidateRefundPolicyConfig(defaults); err != nil {
		return nil, fmt.Errorf("policy service: default policy: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultPolicyCacheTTL
	}

	return &policyService{
		policies:       deps.Policies,
		defaults:       defaults,
		defaultSummary: strings.TrimSpace(deps.DefaultSummary),
		cache:          cache.New(ttl, 2*ttl),
		sanitizer:      bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Current returns the latest saved policy, or the configured defaults as version 0 when none exists.
func (s *policyService) Current(ctx context.Context) (RefundPolicy, error) {
	if cached, ok := s.cache.Get(currentPolicyCacheKey); ok {
		return cached.(RefundPolicy), nil
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return RefundPolicy{}, s.mapRepositoryError(err)
		}
		policy = RefundPolicy{Config: s.defaults, Summary: s.defaultSummary}
	}

	s.cache.SetDefault(currentPolicyCacheKey, policy)
	return policy, nil
}

// Update validates and stores a new policy version.
func (s *policyService) Update(ctx context.Context, cmd UpdatePolicyCommand) (RefundPolicy, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return RefundPolicy{}, fmt.Errorf("%w: actor id is required", ErrPolicyInvalidInput)
	}

	cfg := cmd.Config
	cfg.Currency = money.NormalizeCurrency(cfg.Currency)
	cfg.AppliesTo = domain.RefundScope(strings.ToLower(strings.TrimSpace(string(cfg.AppliesTo))))
	if err := ValidateRefundPolicyConfig(cfg); err != nil {
		return RefundPolicy{}, fmt.Errorf("%w: %w", ErrPolicyInvalidInput, err)
	}

	summary := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Summary))
	if utf8.RuneCountInString(summary) > maxPolicySummaryRunes {
		return RefundPolicy{}, fmt.Errorf("%w: summary exceeds %d characters", ErrPolicyInvalidInput, maxPolicySummaryRunes)
	}

	s.cache.Delete(currentPolicyCacheKey)
	current, err := s.Current(ctx)
	if err != nil {
		return RefundPolicy{}, err
	}
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != current.Version {
		return RefundPolicy{}, fmt.Errorf("%w: expected version %d but current is %d", ErrPolicyConflict, *cmd.ExpectedVersion, current.Version)
	}

	next := RefundPolicy{
		Config:    cfg,
		Summary:   summary,
		Version:   current.Version + 1,
		UpdatedAt: s.now(),
		UpdatedBy: actorID,
	}
	if err := s.policies.Save(ctx, next); err != nil {
		return RefundPolicy{}, s.mapRepositoryError(err)
	}
	s.cache.SetDefault(currentPolicyCacheKey, next)

	s.logger(ctx, "policy.updated", map[string]any{
		"version":         next.Version,
		"actorId":         actorID,
		"freeCancelHours": cfg.FreeCancelHours,
		"noRefundHours":   cfg.NoRefundHours,
		"appliesTo":       string(cfg.AppliesTo),
	})
	return next, nil
}

func (s *policyService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPolicyConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
		}
	}
	return err
}
