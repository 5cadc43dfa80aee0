package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tripdesk/planner/internal/domain"
)

func okCheck(context.Context) error { return nil }

func blockingCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	now := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name     string
		checks   []DependencyCheck
		status   string
		failing  string
		detail   string
		checkErr string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "pubsub", Check: okCheck},
			},
			status: domain.HealthStatusOK,
		},
		{
			name: "optional dependency down",
			checks: []DependencyCheck{
				{Name: "redis", Critical: true, Check: okCheck},
				{Name: "storage", Check: func(context.Context) error { return refused }},
			},
			status:   domain.HealthStatusDegraded,
			failing:  "storage",
			detail:   "unreachable",
			checkErr: refused.Error(),
		},
		{
			name: "session store timeout",
			checks: []DependencyCheck{
				{Name: "redis", Critical: true, Timeout: 5 * time.Millisecond, Check: blockingCheck},
				{Name: "pubsub", Check: func(context.Context) error { return refused }},
			},
			status:   domain.HealthStatusError,
			failing:  "redis",
			detail:   "timeout",
			checkErr: context.DeadlineExceeded.Error(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.status, report.Status)
			assert.Len(t, report.Checks, len(tc.checks))
			assert.Equal(t, now, report.GeneratedAt)
			if tc.failing == "" {
				for name, check := range report.Checks {
					assert.Equal(t, domain.HealthStatusOK, check.Status, name)
					assert.Equal(t, now, check.CheckedAt, name)
				}
				return
			}
			check := report.Checks[tc.failing]
			assert.Equal(t, tc.detail, check.Detail)
			assert.Equal(t, tc.checkErr, check.Error)
		})
	}
}

func TestDependencyHealthRepositoryDefaultTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "pubsub", Check: blockingCheck}},
		WithDependencyTimeout(5*time.Millisecond),
	)
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, "timeout", report.Checks["pubsub"].Detail)
}

func TestNewDependencyHealthRepositoryRejectsIncompleteChecks(t *testing.T) {
	invalid := map[string][]DependencyCheck{
		"empty":       nil,
		"unnamed":     {{Name: " ", Check: okCheck}},
		"no function": {{Name: "firestore"}},
		"duplicate":   {{Name: "redis", Check: okCheck}, {Name: "redis", Check: okCheck}},
	}
	for name, checks := range invalid {
		_, err := NewDependencyHealthRepository(checks)
		assert.Error(t, err, name)
	}
}
