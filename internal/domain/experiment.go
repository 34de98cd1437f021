package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ExperimentStatus string

const (
	StatusRunning   ExperimentStatus = "running"
	StatusCompleted ExperimentStatus = "completed"
	StatusCancelled ExperimentStatus = "cancelled"
	StatusFailed    ExperimentStatus = "failed"
)

func NormalizeStatus(raw string) ExperimentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusRunning):
		return StatusRunning
	case string(StatusCompleted):
		return StatusCompleted
	case string(StatusCancelled):
		return StatusCancelled
	case string(StatusFailed):
		return StatusFailed
	default:
		return ""
	}
}

func (s ExperimentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a status change is allowed. Transitions are
// forward-only: running may move to any terminal state, terminal states
// absorb.
func CanTransition(from, to ExperimentStatus) bool {
	if from != StatusRunning {
		return false
	}
	return to.Terminal()
}

// Metrics is the snapshot of delivery metrics for one platform ad.
type Metrics struct {
	Impressions int64
	SpendCents  int64
	Results     int64
}

// Experiment is a single-creative test.
type Experiment struct {
	ID              string
	TenantID        string
	AdAccountID     string
	CreativeID      string
	CampaignID      string
	AdSetID         string
	AdID            string
	Objective       string
	Status          ExperimentStatus
	ImpressionLimit int64
	BudgetCents     int64
	Metrics         Metrics
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("experiment tenant id is required")
	}
	if strings.TrimSpace(e.CreativeID) == "" {
		return errors.New("experiment creative id is required")
	}
	if NormalizeStatus(string(e.Status)) == "" {
		return fmt.Errorf("unsupported experiment status: %q", e.Status)
	}
	if e.ImpressionLimit <= 0 {
		return errors.New("experiment impression limit must be positive")
	}
	return nil
}

// Complete reports whether the impression limit has been reached.
func (e Experiment) Complete() bool {
	return e.Metrics.Impressions >= e.ImpressionLimit
}

const (
	MinABVariants = 2
	MaxABVariants = 5
)

// ABExperiment is a multi-creative comparison test with one item per
// creative, sharing a single platform campaign.
type ABExperiment struct {
	ID                     string
	TenantID               string
	AdAccountID            string
	CampaignID             string
	Status                 ExperimentStatus
	CreativesCount         int
	ImpressionsPerCreative int64
	BudgetPerCreativeCents int64
	StartedAt              time.Time
	UpdatedAt              time.Time
	CompletedAt            *time.Time
}

func (e ABExperiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("ab experiment id is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("ab experiment tenant id is required")
	}
	if NormalizeStatus(string(e.Status)) == "" {
		return fmt.Errorf("unsupported ab experiment status: %q", e.Status)
	}
	if e.CreativesCount < MinABVariants || e.CreativesCount > MaxABVariants {
		return fmt.Errorf("ab experiment creatives count must be between %d and %d", MinABVariants, MaxABVariants)
	}
	if e.ImpressionsPerCreative <= 0 {
		return errors.New("ab experiment impressions per creative must be positive")
	}
	return nil
}

// ImpressionTarget is the summed completion threshold. A fast variant may
// subsidize a slow one: completion compares the item sum against this value,
// not each item individually.
func (e ABExperiment) ImpressionTarget() int64 {
	return e.ImpressionsPerCreative * int64(e.CreativesCount)
}

// ABExperimentItem binds one creative of an A/B test to its platform ad set
// and ad.
type ABExperimentItem struct {
	ID           string
	ExperimentID string
	CreativeID   string
	AdSetID      string
	AdID         string
	Metrics      Metrics
}

func (i ABExperimentItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("ab item id is required")
	}
	if strings.TrimSpace(i.ExperimentID) == "" {
		return errors.New("ab item experiment id is required")
	}
	if strings.TrimSpace(i.CreativeID) == "" {
		return errors.New("ab item creative id is required")
	}
	return nil
}
