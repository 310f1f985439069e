package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// CallLogRepository stores finished calls. It satisfies the session's
// call logger.
type CallLogRepository struct {
	db *gorm.DB
}

func NewCallLogRepository(db *gorm.DB) *CallLogRepository {
	return &CallLogRepository{db: db}
}

// LogCall records one finished stream.
func (r *CallLogRepository) LogCall(c protocol.Call) error {
	rec := NewCallRecord(c)
	if err := r.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("log call %s: %w", rec.Src, err)
	}
	return nil
}

// Recent returns the newest calls first.
func (r *CallLogRepository) Recent(limit int) ([]CallRecord, error) {
	var recs []CallRecord
	err := r.db.Order("started_at DESC, id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// LastHeard returns the latest call of each distinct source, newest first.
func (r *CallLogRepository) LastHeard(limit int) ([]CallRecord, error) {
	latest := r.db.Model(&CallRecord{}).Select("MAX(id)").Group("src")
	var recs []CallRecord
	err := r.db.Where("id IN (?)", latest).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Count returns the number of logged calls
func (r *CallLogRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&CallRecord{}).Count(&count).Error
	return count, err
}

// Prune deletes calls that started before cutoff.
func (r *CallLogRepository) Prune(cutoff time.Time) (int64, error) {
	res := r.db.Where("started_at < ?", cutoff).Delete(&CallRecord{})
	return res.RowsAffected, res.Error
}
