package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
	"github.com/opscope/opscope/internal/pkg/logger"
)

// RetentionRepo persists retention policies. Optional: without one policies
// live in memory only.
type RetentionRepo interface {
	Upsert(ctx context.Context, policy *model.RetentionPolicy) error
	Get(ctx context.Context, id string) (*model.RetentionPolicy, error)
	List(ctx context.Context, tenantID string) ([]model.RetentionPolicy, error)
	Delete(ctx context.Context, id string) error
}

// compliancePresets is the catalogue of named regulatory profiles. Preset
// names are stable identifiers; days are the profile's minimum retention.
var compliancePresets = []model.CompliancePreset{
	{Name: "gdpr-minimal", Description: "Shortest defensible retention for personal data", RetentionDays: 30},
	{Name: "sox", Description: "Financial records under Sarbanes-Oxley", RetentionDays: 2555},
	{Name: "hipaa", Description: "Health records under HIPAA", RetentionDays: 2190},
	{Name: "pci-dss", Description: "Payment audit trail under PCI DSS", RetentionDays: 365},
	{Name: "default-90", Description: "General-purpose 90 day window", RetentionDays: 90},
}

// TrailPurger is the deletion contract enforcement runs against. The audit
// recorder satisfies it.
type TrailPurger interface {
	DeleteOlderThan(ctx context.Context, tenantID, entityType string, cutoff time.Time) (int64, error)
}

// RetentionService owns retention policy CRUD and runs the scheduled
// enforcement loop that calls the purger's deletion contract.
type RetentionService struct {
	mu       sync.RWMutex
	policies map[string]*model.RetentionPolicy

	repo   RetentionRepo
	purger TrailPurger
}

func NewRetentionService(repo RetentionRepo, purger TrailPurger) *RetentionService {
	s := &RetentionService{
		policies: make(map[string]*model.RetentionPolicy),
		repo:     repo,
		purger:   purger,
	}
	if repo != nil {
		if stored, err := repo.List(context.Background(), ""); err == nil {
			for i := range stored {
				p := stored[i]
				s.policies[p.ID] = &p
			}
		}
	}
	return s
}

// Presets lists the known compliance presets.
func (s *RetentionService) Presets() []model.CompliancePreset {
	out := make([]model.CompliancePreset, len(compliancePresets))
	copy(out, compliancePresets)
	return out
}

// Create validates and stores a new policy. A named preset fills in the
// retention window when days are not given explicitly.
func (s *RetentionService) Create(ctx context.Context, policy model.RetentionPolicy) (*model.RetentionPolicy, error) {
	if policy.TenantID == "" {
		return nil, apperrors.NewValidation("tenant_id is required")
	}
	if policy.CompliancePreset != "" {
		preset, ok := presetByName(policy.CompliancePreset)
		if !ok {
			return nil, apperrors.NewValidation("unknown compliance preset " + policy.CompliancePreset)
		}
		if policy.RetentionDays <= 0 {
			policy.RetentionDays = preset.RetentionDays
		}
	}
	if policy.RetentionDays <= 0 {
		return nil, apperrors.NewValidation("retention_days must be positive")
	}

	now := time.Now().UTC()
	policy.ID = uuid.New().String()
	policy.CreatedAt = now
	policy.UpdatedAt = now
	policy.Active = true

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, &policy); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.policies[policy.ID] = &policy
	s.mu.Unlock()
	return &policy, nil
}

// Update replaces the mutable fields of an existing policy.
func (s *RetentionService) Update(ctx context.Context, id string, days int, active bool) (*model.RetentionPolicy, error) {
	if days <= 0 {
		return nil, apperrors.NewValidation("retention_days must be positive")
	}
	s.mu.Lock()
	policy, ok := s.policies[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NewNotFound("retention policy not found")
	}
	policy.RetentionDays = days
	policy.Active = active
	policy.UpdatedAt = time.Now().UTC()
	updated := *policy
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, &updated); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

// List returns policies, optionally narrowed to one tenant, oldest first.
func (s *RetentionService) List(tenantID string) []model.RetentionPolicy {
	s.mu.RLock()
	out := make([]model.RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if tenantID == "" || p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a policy.
func (s *RetentionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.policies[id]
	delete(s.policies, id)
	s.mu.Unlock()
	if !ok {
		return apperrors.NewNotFound("retention policy not found")
	}
	if s.repo != nil {
		return s.repo.Delete(ctx, id)
	}
	return nil
}

// EnforceOnce applies every active policy: events older than each policy's
// window are purged through the purger's deletion contract.
func (s *RetentionService) EnforceOnce(ctx context.Context) {
	now := time.Now().UTC()
	for _, policy := range s.List("") {
		if !policy.Active {
			continue
		}
		cutoff := now.AddDate(0, 0, -policy.RetentionDays)
		removed, err := s.purger.DeleteOlderThan(ctx, policy.TenantID, policy.EntityType, cutoff)
		if err != nil {
			logger.Error("retention enforcement failed", "policy", policy.ID, "error", err)
			continue
		}
		if removed > 0 {
			logger.Info("retention enforced", "policy", policy.ID, "tenant", policy.TenantID, "removed", removed)
		}
	}
}

// StartEnforcement runs EnforceOnce on an interval until ctx is done.
func (s *RetentionService) StartEnforcement(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.EnforceOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func presetByName(name string) (model.CompliancePreset, bool) {
	for _, p := range compliancePresets {
		if p.Name == name {
			return p, true
		}
	}
	return model.CompliancePreset{}, false
}
