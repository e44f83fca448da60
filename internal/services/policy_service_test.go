package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/database"
)

type stubPolicyRepo struct {
	current    *domain.RefundPolicy
	currentErr error
	saveFn     func(context.Context, domain.RefundPolicy) error
	reads      int
}

func (s *stubPolicyRepo) Current(context.Context) (domain.RefundPolicy, error) {
	s.reads++
	if s.currentErr != nil {
		return domain.RefundPolicy{}, s.currentErr
	}
	if s.current == nil {
		return domain.RefundPolicy{}, database.NotFound("policies.current", "no policy saved")
	}
	return *s.current, nil
}

func (s *stubPolicyRepo) Save(ctx context.Context, policy domain.RefundPolicy) error {
	if s.saveFn != nil {
		if err := s.saveFn(ctx, policy); err != nil {
			return err
		}
	}
	s.current = &policy
	return nil
}

var policyNow = time.Date(2025, 4, 1, 9, 30, 0, 0, time.FixedZone("BST", 3600))

func newPolicyServiceForTest(t *testing.T, repo *stubPolicyRepo, logs *captureLogs) PolicyService {
	t.Helper()
	deps := PolicyServiceDeps{
		Policies:       repo,
		DefaultSummary: "Free cancellation up to 24 hours before your appointment.",
		Clock:          func() time.Time { return policyNow },
	}
	if logs != nil {
		deps.Logger = logs.log
	}
	svc, err := NewPolicyService(deps)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	return svc
}

func TestPolicyServiceCurrentFallsBackToDefaults(t *testing.T) {
	repo := &stubPolicyRepo{}
	svc := newPolicyServiceForTest(t, repo, nil)

	policy, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if policy.Version != 0 {
		t.Fatalf("expected version 0 for defaults, got %d", policy.Version)
	}
	if policy.Config.FreeCancelHours != 24 || policy.Config.Currency != "gbp" {
		t.Fatalf("unexpected default config %+v", policy.Config)
	}
	if !strings.HasPrefix(policy.Summary, "Free cancellation") {
		t.Fatalf("unexpected summary %q", policy.Summary)
	}

	if _, err := svc.Current(context.Background()); err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if repo.reads != 1 {
		t.Fatalf("expected cached policy on second read, got %d repository reads", repo.reads)
	}
}

func TestPolicyServiceCurrentMapsUnavailable(t *testing.T) {
	repo := &stubPolicyRepo{currentErr: database.WrapError("policies.current", errors.Join(errors.New("dial"), &netTimeoutError{}))}
	svc := newPolicyServiceForTest(t, repo, nil)

	_, err := svc.Current(context.Background())
	if !errors.Is(err, ErrPolicyUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPolicyServiceUpdate(t *testing.T) {
	repo := &stubPolicyRepo{}
	logs := &captureLogs{}
	svc := newPolicyServiceForTest(t, repo, logs)

	cfg := domain.DefaultRefundPolicyConfig()
	cfg.FreeCancelHours = 48
	cfg.PartialRefundPercent = decimal.NewFromInt(25)
	cfg.Currency = " GBP "
	cfg.AppliesTo = "FULL"
	expected := 0

	policy, err := svc.Update(context.Background(), UpdatePolicyCommand{
		Config:          cfg,
		Summary:         "<b>Free</b> cancellation up to 48 hours before.<script>alert(1)</script>",
		ActorID:         "staff_1",
		ExpectedVersion: &expected,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if policy.Version != 1 || policy.UpdatedBy != "staff_1" {
		t.Fatalf("unexpected policy metadata %+v", policy)
	}
	if !policy.UpdatedAt.Equal(policyNow) || policy.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", policy.UpdatedAt)
	}
	if policy.Config.Currency != "gbp" || policy.Config.AppliesTo != domain.RefundScopeFull {
		t.Fatalf("expected normalised config, got %+v", policy.Config)
	}
	if policy.Summary != "Free cancellation up to 48 hours before." {
		t.Fatalf("expected sanitised summary, got %q", policy.Summary)
	}
	if !logs.has("policy.updated") {
		t.Fatalf("expected update log, got %v", logs.events)
	}

	current, err := svc.Current(context.Background())
	if err != nil || current.Version != 1 || current.Config.FreeCancelHours != 48 {
		t.Fatalf("expected updated policy to be current, got %+v (%v)", current, err)
	}
}

func TestPolicyServiceUpdateRejectsStaleVersion(t *testing.T) {
	saved := domain.RefundPolicy{Config: domain.DefaultRefundPolicyConfig(), Version: 4}
	repo := &stubPolicyRepo{current: &saved}
	svc := newPolicyServiceForTest(t, repo, nil)

	stale := 3
	_, err := svc.Update(context.Background(), UpdatePolicyCommand{
		Config:          domain.DefaultRefundPolicyConfig(),
		ActorID:         "staff_1",
		ExpectedVersion: &stale,
	})
	if !errors.Is(err, ErrPolicyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPolicyServiceUpdateMapsSaveConflict(t *testing.T) {
	repo := &stubPolicyRepo{saveFn: func(context.Context, domain.RefundPolicy) error {
		return database.Conflict("policies.save", "version 1 already exists")
	}}
	svc := newPolicyServiceForTest(t, repo, nil)

	_, err := svc.Update(context.Background(), UpdatePolicyCommand{Config: domain.DefaultRefundPolicyConfig(), ActorID: "staff_1"})
	if !errors.Is(err, ErrPolicyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPolicyServiceUpdateValidation(t *testing.T) {
	svc := newPolicyServiceForTest(t, &stubPolicyRepo{}, nil)

	inverted := domain.DefaultRefundPolicyConfig()
	inverted.NoRefundHours = 30

	cases := []struct {
		name string
		cmd  UpdatePolicyCommand
	}{
		{name: "missing actor", cmd: UpdatePolicyCommand{Config: domain.DefaultRefundPolicyConfig()}},
		{name: "inverted windows", cmd: UpdatePolicyCommand{Config: inverted, ActorID: "staff_1"}},
		{name: "summary too long", cmd: UpdatePolicyCommand{Config: domain.DefaultRefundPolicyConfig(), ActorID: "staff_1", Summary: strings.Repeat("a", maxPolicySummaryRunes+1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tc.cmd)
			if !errors.Is(err, ErrPolicyInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	_, err := svc.Update(context.Background(), cases[1].cmd)
	if !errors.Is(err, ErrRefundPolicyInvalidConfig) {
		t.Fatalf("expected wrapped config error, got %v", err)
	}
}

type netTimeoutError struct{}

func (*netTimeoutError) Error() string   { return "i/o timeout" }
func (*netTimeoutError) Timeout() bool   { return true }
func (*netTimeoutError) Temporary() bool { return true }
