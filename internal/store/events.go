package store

import (
	"errors"
	"strings"
)

// SaveEvent persists one terminal advisory event.
func (d *Database) SaveEvent(e *AdvisoryEvent) error {
	if e == nil {
		return errors.New("event is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(e).Error
}

// EventQuery encapsulates filters and pagination for listing events.
type EventQuery struct {
	Flow   string
	State  string
	Actor  string
	Offset int
	Limit  int
}

// ListEvents returns the newest events matching the optional filters.
func (d *Database) ListEvents(opts EventQuery) ([]AdvisoryEvent, int64, error) {
	base := d.gorm.Model(&AdvisoryEvent{})
	if flow := strings.TrimSpace(opts.Flow); flow != "" {
		base = base.Where("flow = ?", flow)
	}
	if state := strings.TrimSpace(opts.State); state != "" {
		base = base.Where("state = ?", state)
	}
	if actor := strings.TrimSpace(opts.Actor); actor != "" {
		base = base.Where("actor = ?", actor)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := base.Order("occurred_at DESC").Order("id DESC").Offset(opts.Offset)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []AdvisoryEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// StateCount is one row of CountEventsByState.
type StateCount struct {
	Flow  string `json:"flow"`
	State string `json:"state"`
	Total int64  `json:"total"`
}

// CountEventsByState aggregates terminal states per flow.
func (d *Database) CountEventsByState() ([]StateCount, error) {
	var rows []StateCount
	err := d.gorm.Model(&AdvisoryEvent{}).
		Select("flow, state, COUNT(*) AS total").
		Group("flow, state").
		Order("flow ASC, state ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
