package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// GestureEvent is one fresh stable gesture.
type GestureEvent struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	UserID     string    `json:"userId"`
	DetectedAt time.Time `json:"detectedAt"`
}

// LabelCount is the number of events recorded for a label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// EventRepository records gesture events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the gesture event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Record inserts e, assigning an id when it has none.
func (r *EventRepository) Record(e *GestureEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO gesture_events (id, label, gesture_type, confidence, user_id, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Label, e.Type, e.Confidence, e.UserID, e.DetectedAt.UnixMilli(),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(limit int) ([]*GestureEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, label, gesture_type, confidence, user_id, detected_at
		 FROM gesture_events ORDER BY detected_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*GestureEvent{}
	for rows.Next() {
		e := &GestureEvent{}
		var detectedAt int64
		if err := rows.Scan(&e.ID, &e.Label, &e.Type, &e.Confidence, &e.UserID, &detectedAt); err != nil {
			return nil, err
		}
		e.DetectedAt = time.UnixMilli(detectedAt)
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetByID retrieves one event.
func (r *EventRepository) GetByID(id string) (*GestureEvent, error) {
	e := &GestureEvent{}
	var detectedAt int64

	err := r.db.QueryRow(
		`SELECT id, label, gesture_type, confidence, user_id, detected_at
		 FROM gesture_events WHERE id = ?`,
		id,
	).Scan(&e.ID, &e.Label, &e.Type, &e.Confidence, &e.UserID, &detectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.DetectedAt = time.UnixMilli(detectedAt)
	return e, nil
}

// CountByLabel returns per-label totals since the given time, most frequent first.
func (r *EventRepository) CountByLabel(since time.Time) ([]LabelCount, error) {
	rows, err := r.db.Query(
		`SELECT label, COUNT(*) FROM gesture_events
		 WHERE detected_at >= ? GROUP BY label ORDER BY COUNT(*) DESC, label`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []LabelCount{}
	for rows.Next() {
		var c LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DeleteBefore removes events older than t and returns how many were removed.
func (r *EventRepository) DeleteBefore(t time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM gesture_events WHERE detected_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
