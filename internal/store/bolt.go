package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zapline/zapline/internal/crm"
)

var (
	bucketCampaigns = []byte("campaigns")
	bucketLeads     = []byte("leads")
	bucketPositions = []byte("positions")
	bucketSettings  = []byte("settings")
	bucketByLead    = []byte("positions_by_lead")
)

var settingsKey = []byte("global")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a BoltDB store at path
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketLeads, bucketPositions, bucketSettings, bucketByLead} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// LoadSettings returns the settings singleton, or nil if never saved
func (s *BoltStore) LoadSettings(ctx context.Context) (*crm.Settings, error) {
	var settings *crm.Settings

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(settingsKey)
		if data == nil {
			return nil
		}
		settings = &crm.Settings{}
		return json.Unmarshal(data, settings)
	})

	return settings, err
}

// SaveSettings replaces the settings singleton
func (s *BoltStore) SaveSettings(ctx context.Context, settings *crm.Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		return tx.Bucket(bucketSettings).Put(settingsKey, data)
	})
}

// PutCampaign stores a campaign
func (s *BoltStore) PutCampaign(ctx context.Context, c *crm.Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c.UpdatedAt = time.Now()
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data)
	})
}

// GetCampaign retrieves a campaign by ID, or nil if absent
func (s *BoltStore) GetCampaign(ctx context.Context, id string) (*crm.Campaign, error) {
	var c *crm.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return nil
		}
		c = &crm.Campaign{}
		return json.Unmarshal(data, c)
	})

	return c, err
}

// ListCampaigns returns all campaigns ordered by rank
func (s *BoltStore) ListCampaigns(ctx context.Context) ([]*crm.Campaign, error) {
	var campaigns []*crm.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c crm.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil // Skip invalid entries
			}
			campaigns = append(campaigns, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(campaigns, func(i, j int) bool {
		return campaigns[i].Rank < campaigns[j].Rank
	})
	return campaigns, nil
}

// PutLead stores a lead
func (s *BoltStore) PutLead(ctx context.Context, l *crm.Lead) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to marshal lead: %w", err)
		}
		return tx.Bucket(bucketLeads).Put([]byte(l.ID), data)
	})
}

// GetLead retrieves a lead by ID, or nil if absent
func (s *BoltStore) GetLead(ctx context.Context, id string) (*crm.Lead, error) {
	var l *crm.Lead

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLeads).Get([]byte(id))
		if data == nil {
			return nil
		}
		l = &crm.Lead{}
		return json.Unmarshal(data, l)
	})

	return l, err
}

// PutPosition stores a position and maintains the (lead, campaign)
// uniqueness index
func (s *BoltStore) PutPosition(ctx context.Context, p *crm.Position) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p.UpdatedAt = time.Now()
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal position: %w", err)
		}
		if err := tx.Bucket(bucketPositions).Put([]byte(p.ID), data); err != nil {
			return fmt.Errorf("failed to store position: %w", err)
		}
		return tx.Bucket(bucketByLead).Put(leadCampaignKey(p.LeadID, p.CampaignID), []byte(p.ID))
	})
}

// GetPosition retrieves a position by ID, or nil if absent
func (s *BoltStore) GetPosition(ctx context.Context, id string) (*crm.Position, error) {
	var p *crm.Position

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPositions).Get([]byte(id))
		if data == nil {
			return nil
		}
		p = &crm.Position{}
		return json.Unmarshal(data, p)
	})

	return p, err
}

// PositionFor returns the position of a (lead, campaign) pair via the
// uniqueness index, or nil if the lead is not enrolled
func (s *BoltStore) PositionFor(ctx context.Context, leadID, campaignID string) (*crm.Position, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketByLead).Get(leadCampaignKey(leadID, campaignID))
		if data != nil {
			id = string(data)
		}
		return nil
	})
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetPosition(ctx, id)
}

// DeletePosition removes a position and its index entry
func (s *BoltStore) DeletePosition(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		posBucket := tx.Bucket(bucketPositions)

		data := posBucket.Get([]byte(id))
		if data != nil {
			var p crm.Position
			if err := json.Unmarshal(data, &p); err == nil {
				tx.Bucket(bucketByLead).Delete(leadCampaignKey(p.LeadID, p.CampaignID))
			}
		}

		return posBucket.Delete([]byte(id))
	})
}

// DuePositions returns positions due for a dispatch attempt, oldest first
func (s *BoltStore) DuePositions(ctx context.Context, now time.Time) ([]*crm.Position, error) {
	var due []*crm.Position

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p crm.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if p.BypassGate || p.NextScheduledAt == nil || !p.NextScheduledAt.After(now) {
				due = append(due, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Oldest first, for fairness across campaigns
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

// CountSentSince counts positions with lastSentAt after the given instant
func (s *BoltStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	count := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p crm.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if p.LastSentAt != nil && p.LastSentAt.After(since) {
				count++
			}
			return nil
		})
	})

	return count, err
}

// PositionsByStatus returns positions matching any of the given statuses,
// ordered by creation time
func (s *BoltStore) PositionsByStatus(ctx context.Context, campaignID string, statuses ...crm.PositionStatus) ([]*crm.Position, error) {
	match := make(map[crm.PositionStatus]bool, len(statuses))
	for _, st := range statuses {
		match[st] = true
	}

	var positions []*crm.Position

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p crm.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if campaignID != "" && p.CampaignID != campaignID {
				return nil
			}
			if len(match) > 0 && !match[p.Status] {
				return nil
			}
			positions = append(positions, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions, nil
}

// ListPositions returns positions with optional filtering
func (s *BoltStore) ListPositions(ctx context.Context, filter ListFilter) ([]*crm.Position, error) {
	var positions []*crm.Position

	err := s.db.View(func(tx *bolt.Tx) error {
		count := 0
		skipped := 0

		return tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p crm.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if filter.CampaignID != "" && p.CampaignID != filter.CampaignID {
				return nil
			}
			if filter.Status != "" && p.Status != filter.Status {
				return nil
			}
			if skipped < filter.Offset {
				skipped++
				return nil
			}
			if filter.Limit > 0 && count >= filter.Limit {
				return nil
			}
			positions = append(positions, &p)
			count++
			return nil
		})
	})

	return positions, err
}

// Stats returns position counts by status
func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p crm.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			stats.Total++
			switch p.Status {
			case crm.StatusPending:
				stats.Pending++
			case crm.StatusSending:
				stats.Sending++
			case crm.StatusSent:
				stats.Sent++
			case crm.StatusFailed:
				stats.Failed++
			case crm.StatusRateLimited:
				stats.RateLimited++
			case crm.StatusDisconnected:
				stats.Disconnected++
			}
			return nil
		})
	})

	return stats, err
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

func leadCampaignKey(leadID, campaignID string) []byte {
	return []byte(leadID + ":" + campaignID)
}
