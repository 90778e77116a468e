// Package repository persists a local history of planning runs to SQLite, so
// past objectives and build decisions can be compared without re-solving.
package repository

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Repository stores one row per planning run in a local SQLite file.
type Repository struct {
	db *gorm.DB
}

func New(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&PlanRun{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{
		db: db,
	}, nil
}

// AddRun records one finished (or failed) planning run.
func (r *Repository) AddRun(run PlanRun) error {
	result := r.db.Create(&run)
	return result.Error
}

// Runs returns the most recent runs, newest first.
func (r *Repository) Runs(limit int) ([]PlanRun, error) {
	var runs []PlanRun

	result := r.db.Limit(limit).Order("started_at desc").Find(&runs)
	if result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

// RunByID returns one run by its identifier.
func (r *Repository) RunByID(id string) (PlanRun, error) {
	var run PlanRun
	result := r.db.Where("id = ?", id).First(&run)
	return run, result.Error
}
