package service

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// AttemptProgress is one attempt on the proctor feed.
type AttemptProgress struct {
	repository.AttemptRow
	AnsweredCount int64 `json:"answered_count"`
}

// ProgressSnapshot is the proctor view of every attempt of an exam.
type ProgressSnapshot struct {
	Attempts        []AttemptProgress `json:"attempts"`
	TotalStarted    int               `json:"total_started"`
	TotalInProgress int               `json:"total_in_progress"`
	TotalSubmitted  int               `json:"total_submitted"`
	TotalViolations int64             `json:"total_violations"`
}

// GetProgress returns the attempts of an exam decorated with live answer and
// violation counts.
func (s *MonitorService) GetProgress(ctx context.Context, examID string) (*ProgressSnapshot, error) {
	rows, err := s.monitorRepo.ListAttempts(ctx, examID)
	if err != nil {
		return nil, err
	}

	active := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Status == model.AttemptStatusActive {
			active = append(active, r.AttemptID)
		}
	}

	var (
		answeredCounts  map[string]int64
		violationCounts map[string]int64
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	// Both fetches are independent; run them in parallel.
	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, active)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.monitorRepo.GetViolationCounts(ctx, examID)
	}()

	wg.Wait()

	// Answered counts are critical; violation counts are best-effort.
	if answeredErr != nil {
		return nil, answeredErr
	}
	if violationErr != nil {
		violationCounts = nil
	}

	snap := &ProgressSnapshot{Attempts: make([]AttemptProgress, 0, len(rows))}
	for _, r := range rows {
		p := AttemptProgress{AttemptRow: r, AnsweredCount: answeredCounts[r.AttemptID]}
		// The violation worker lags the live counter; show whichever is ahead.
		if n := violationCounts[r.AttemptID]; n > int64(p.ViolationCount) {
			p.ViolationCount = int(n)
		}
		snap.TotalViolations += int64(p.ViolationCount)

		switch r.Status {
		case model.AttemptStatusActive:
			snap.TotalStarted++
			snap.TotalInProgress++
		case model.AttemptStatusSubmitted:
			snap.TotalStarted++
			snap.TotalSubmitted++
		}
		snap.Attempts = append(snap.Attempts, p)
	}
	return snap, nil
}
