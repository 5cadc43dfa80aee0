package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/repositories"
)

// BuildInfo is the release metadata reported on /readyz.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Planner          TripPlannerService
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health  repositories.HealthRepository
	planner TripPlannerService
	now     func() time.Time
	build   BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService combines dependency probes with planner session counts.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:  deps.HealthRepository,
		planner: deps.Planner,
		now:     func() time.Time { return clock().UTC() },
		build:   build,
	}, nil
}

// HealthReport probes the backing stores and adds a "planner" entry describing the live
// session cache. Probe failures are returned as errors; degraded probes only affect Status.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.planner != nil {
		report.ActiveSessions = s.planner.ActiveSessions()
		checks["planner"] = domain.SystemHealthCheck{
			Status:    domain.HealthStatusOK,
			Detail:    strconv.Itoa(report.ActiveSessions) + " active sessions",
			CheckedAt: now,
		}
	}
	report.Checks = checks
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(checks)
	}
	return report, nil
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
