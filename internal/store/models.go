package store

import (
	"database/sql"
	"errors"
	"time"
)

// ModelLoad records one successful activation of a user's model.
type ModelLoad struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	ModelPath  string    `json:"modelPath"`
	LabelsPath string    `json:"labelsPath"`
	Classes    int       `json:"classes"`
	LoadedAt   time.Time `json:"loadedAt"`
}

// ModelLoadRepository records model activations.
type ModelLoadRepository struct {
	db *sql.DB
}

// ModelLoads returns the model load repository for this store.
func (s *Store) ModelLoads() *ModelLoadRepository {
	return &ModelLoadRepository{db: s.db}
}

// Record inserts l and sets its ID.
func (r *ModelLoadRepository) Record(l *ModelLoad) error {
	if l.LoadedAt.IsZero() {
		l.LoadedAt = time.Now()
	}

	res, err := r.db.Exec(
		`INSERT INTO model_loads (user_id, model_path, labels_path, classes, loaded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.UserID, l.ModelPath, l.LabelsPath, l.Classes, l.LoadedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	l.ID, err = res.LastInsertId()
	return err
}

// Recent returns up to limit loads, newest first.
func (r *ModelLoadRepository) Recent(limit int) ([]*ModelLoad, error) {
	rows, err := r.db.Query(
		`SELECT id, user_id, model_path, labels_path, classes, loaded_at
		 FROM model_loads ORDER BY loaded_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := []*ModelLoad{}
	for rows.Next() {
		l, err := scanModelLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// LastForUser returns the most recent load of userID's model.
func (r *ModelLoadRepository) LastForUser(userID string) (*ModelLoad, error) {
	row := r.db.QueryRow(
		`SELECT id, user_id, model_path, labels_path, classes, loaded_at
		 FROM model_loads WHERE user_id = ? ORDER BY loaded_at DESC, id DESC LIMIT 1`,
		userID,
	)
	l, err := scanModelLoad(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModelLoad(s scanner) (*ModelLoad, error) {
	l := &ModelLoad{}
	var loadedAt int64
	if err := s.Scan(&l.ID, &l.UserID, &l.ModelPath, &l.LabelsPath, &l.Classes, &loadedAt); err != nil {
		return nil, err
	}
	l.LoadedAt = time.UnixMilli(loadedAt)
	return l, nil
}
