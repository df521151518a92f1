package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProjectStatus string

const (
	ProjectPublished   ProjectStatus = "published"
	ProjectNegotiating ProjectStatus = "negotiating"
	ProjectAgreed      ProjectStatus = "agreed"
	ProjectEscrowed    ProjectStatus = "escrowed"
	ProjectInProgress  ProjectStatus = "in_progress"
	ProjectCompleted   ProjectStatus = "completed"
	ProjectProtection  ProjectStatus = "protection"
	ProjectReleased    ProjectStatus = "released"
	ProjectReviewed    ProjectStatus = "reviewed"
	ProjectCancelled   ProjectStatus = "cancelled"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectPublished:   {ProjectNegotiating, ProjectAgreed, ProjectCancelled},
	ProjectNegotiating: {ProjectAgreed, ProjectCancelled},
	ProjectAgreed:      {ProjectEscrowed, ProjectCancelled},
	ProjectEscrowed:    {ProjectInProgress, ProjectReleased},
	ProjectInProgress:  {ProjectCompleted, ProjectReleased},
	ProjectCompleted:   {ProjectProtection, ProjectReleased},
	ProjectProtection:  {ProjectReleased},
	ProjectReleased:    {ProjectReviewed},
}

// CanTransition reports whether s may move to next. Transitions only go
// forward along the happy path; cancelled is reachable before escrow.
func (s ProjectStatus) CanTransition(next ProjectStatus) bool {
	for _, allowed := range projectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptingQuotes reports whether tradies may still quote.
func (s ProjectStatus) AcceptingQuotes() bool {
	return s == ProjectPublished || s == ProjectNegotiating
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPublished, ProjectNegotiating, ProjectAgreed, ProjectEscrowed, ProjectInProgress,
		ProjectCompleted, ProjectProtection, ProjectReleased, ProjectReviewed, ProjectCancelled:
		return true
	}
	return false
}

// Project is a unit of work posted by an owner.
type Project struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
	// QuoteVoid is an accepted quote whose project was cancelled before payment.
	QuoteVoid QuoteStatus = "void"
)

// Quote is a tradie's priced offer against a project.
type Quote struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	TradieID    string          `json:"tradie_id"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Status      QuoteStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
