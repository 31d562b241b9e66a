package store

import (
	"context"
	"time"

	"github.com/zapline/zapline/internal/crm"
)

// ListFilter represents filter options for listing positions
type ListFilter struct {
	CampaignID string
	Status     crm.PositionStatus
	Limit      int
	Offset     int
}

// Stats represents position counts by status
type Stats struct {
	Pending      int64 `json:"pending"`
	Sending      int64 `json:"sending"`
	Sent         int64 `json:"sent"`
	Failed       int64 `json:"failed"`
	RateLimited  int64 `json:"rate_limited"`
	Disconnected int64 `json:"channel_disconnected"`
	Total        int64 `json:"total"`
}

// Store defines the persistence operations the automation engine consumes
type Store interface {
	// LoadSettings returns the settings singleton, or nil if never saved
	LoadSettings(ctx context.Context) (*crm.Settings, error)

	// SaveSettings replaces the settings singleton
	SaveSettings(ctx context.Context, s *crm.Settings) error

	// Campaigns
	PutCampaign(ctx context.Context, c *crm.Campaign) error
	GetCampaign(ctx context.Context, id string) (*crm.Campaign, error)
	ListCampaigns(ctx context.Context) ([]*crm.Campaign, error)

	// Leads
	PutLead(ctx context.Context, l *crm.Lead) error
	GetLead(ctx context.Context, id string) (*crm.Lead, error)

	// Positions
	PutPosition(ctx context.Context, p *crm.Position) error
	GetPosition(ctx context.Context, id string) (*crm.Position, error)
	DeletePosition(ctx context.Context, id string) error

	// PositionFor returns the position of a (lead, campaign) pair, or nil
	// if the lead is not enrolled in the campaign
	PositionFor(ctx context.Context, leadID, campaignID string) (*crm.Position, error)

	// DuePositions returns positions whose nextScheduledAt is unset or has
	// passed, or whose bypass flag is set, ordered by creation time
	DuePositions(ctx context.Context, now time.Time) ([]*crm.Position, error)

	// CountSentSince counts positions whose lastSentAt falls after the
	// given instant, across all campaigns
	CountSentSince(ctx context.Context, since time.Time) (int, error)

	// PositionsByStatus returns positions matching any of the given
	// statuses, optionally restricted to one campaign, ordered by creation
	// time
	PositionsByStatus(ctx context.Context, campaignID string, statuses ...crm.PositionStatus) ([]*crm.Position, error)

	// ListPositions returns positions with optional filtering
	ListPositions(ctx context.Context, filter ListFilter) ([]*crm.Position, error)

	// Stats returns position counts by status
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage
	Close() error
}
