package crm

import (
	"time"
)

// PositionStatus represents the delivery state of a lead position
type PositionStatus string

const (
	StatusPending      PositionStatus = "pending"
	StatusSending      PositionStatus = "sending"
	StatusSent         PositionStatus = "sent"
	StatusFailed       PositionStatus = "failed"
	StatusRateLimited  PositionStatus = "rate_limited"
	StatusDisconnected PositionStatus = "channel_disconnected"
)

// RecurrenceKind identifies the recurrence policy variant
type RecurrenceKind string

const (
	RecurrenceNone        RecurrenceKind = "none"
	RecurrenceDaily       RecurrenceKind = "daily"
	RecurrenceWeekly      RecurrenceKind = "weekly"
	RecurrenceMonthly     RecurrenceKind = "monthly"
	RecurrenceCustomDates RecurrenceKind = "custom_dates"
	RecurrenceDaysFromNow RecurrenceKind = "days_from_now"
)

// RecurrencePolicy controls when a position becomes eligible again after a
// successful send. Only the field matching Kind is meaningful.
type RecurrencePolicy struct {
	Kind       RecurrenceKind `json:"kind"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`     // weekly: 0=Sunday .. 6=Saturday
	DayOfMonth int            `json:"day_of_month,omitempty"` // monthly
	Dates      []time.Time    `json:"dates,omitempty"`        // custom_dates, ascending
	Days       int            `json:"days,omitempty"`         // days_from_now
}

// MediaKind identifies the type of a media attachment
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Media is an attachment sent after the campaign's text message
type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Campaign is a configured recurring or one-off outbound message definition
type Campaign struct {
	ID                      string           `json:"id"`
	Name                    string           `json:"name"`
	Rank                    int              `json:"rank"`
	MessageTemplate         string           `json:"message_template"`
	Media                   []Media          `json:"media,omitempty"`
	DispatchIntervalSeconds int              `json:"dispatch_interval_seconds"`
	Recurrence              RecurrencePolicy `json:"recurrence"`
	// LegacyMonthlyDay is honored when Recurrence.Kind is "none" but this
	// field is set, for campaigns created before tagged policies existed.
	LegacyMonthlyDay int       `json:"legacy_monthly_day,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Lead is a CRM contact targeted by campaigns
type Lead struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone"`
	Email     string            `json:"email,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Position associates one lead with one campaign and carries all
// scheduling and delivery state. At most one exists per (lead, campaign).
type Position struct {
	ID                string         `json:"id"`
	LeadID            string         `json:"lead_id"`
	CampaignID        string         `json:"campaign_id"`
	Status            PositionStatus `json:"status"`
	LastSentAt        *time.Time     `json:"last_sent_at,omitempty"`
	LastAttemptAt     *time.Time     `json:"last_attempt_at,omitempty"`
	NextScheduledAt   *time.Time     `json:"next_scheduled_at,omitempty"`
	MessagesSentCount int            `json:"messages_sent_count"`
	LastError         string         `json:"last_error,omitempty"`
	BypassGate        bool           `json:"bypass_gate,omitempty"`  // one-shot
	ManualRetry       bool           `json:"manual_retry,omitempty"` // one-shot
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Settings is the singleton of global dispatch constraints
type Settings struct {
	SendOnlyBusinessHours bool   `json:"send_only_business_hours"`
	BusinessHourStart     int    `json:"business_hour_start"` // local hour, inclusive
	BusinessHourEnd       int    `json:"business_hour_end"`   // local hour, exclusive
	BlockWeekends         bool   `json:"block_weekends"`
	Timezone              string `json:"timezone"` // IANA name
	MaxMessagesPerHour    int    `json:"max_messages_per_hour"`
	MaxMessagesPerDay     int    `json:"max_messages_per_day"`
}

// Location resolves the configured timezone, falling back to UTC on a
// missing or invalid name.
func (s *Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
