package services

import (
	"context"
	"testing"

	domain "github.com/homebitez/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemService_HealthReportDerivesStatus(t *testing.T) {
	repo := stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"postgres":  {Status: domain.HealthStatusOK},
			"firestore": {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            fixedClock,
		Build:            BuildInfo{Version: "1.4.0", Environment: "staging"},
	})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" || !report.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSystemService_ErrorCheckWins(t *testing.T) {
	repo := stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"postgres": {Status: domain.HealthStatusError},
			"pubsub":   {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport error: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
}
