package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RadioUserRepository provides database operations for radio users
type RadioUserRepository struct {
	db *gorm.DB
}

// NewRadioUserRepository creates a new repository instance
func NewRadioUserRepository(db *gorm.DB) *RadioUserRepository {
	return &RadioUserRepository{db: db}
}

// GetByRadioID finds a user on network by radio id. It returns
// gorm.ErrRecordNotFound when there is none.
func (r *RadioUserRepository) GetByRadioID(network string, radioID uint32) (*RadioUser, error) {
	var user RadioUser
	err := r.db.Where("network = ? AND radio_id = ?", network, radioID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByCallsign finds the first user with callsign on network, or on any
// network when network is empty
func (r *RadioUserRepository) GetByCallsign(network, callsign string) (*RadioUser, error) {
	var user RadioUser
	q := r.db.Where("callsign = ?", callsign)
	if network != "" {
		q = q.Where("network = ?", network)
	}
	err := q.Order("network, radio_id").First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Upsert creates or updates a single user
func (r *RadioUserRepository) Upsert(user *RadioUser) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}

	user.SanitizeFields()
	if !user.IsValid() {
		return fmt.Errorf("user is not valid: network=%q radio_id=%d callsign=%q", user.Network, user.RadioID, user.Callsign)
	}
	user.UpdatedAt = time.Now()

	return r.db.Save(user).Error
}

// UpsertBatch creates or updates users in transactions of batchSize rows.
// Invalid rows are skipped. It returns the number of rows written.
func (r *RadioUserRepository) UpsertBatch(users []RadioUser) (int, error) {
	const batchSize = 1000

	written := 0
	now := time.Now()
	for i := 0; i < len(users); i += batchSize {
		end := min(i+batchSize, len(users))

		valid := make([]RadioUser, 0, end-i)
		for _, user := range users[i:end] {
			user.SanitizeFields()
			if user.IsValid() {
				user.UpdatedAt = now
				valid = append(valid, user)
			}
		}
		if len(valid) == 0 {
			continue
		}

		err := r.db.Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(valid, 200).Error
		})
		if err != nil {
			return written, fmt.Errorf("batch upsert failed at batch starting at index %d: %w", i, err)
		}
		written += len(valid)
	}

	return written, nil
}

// Count returns the number of users on network, or on all networks when
// network is empty
func (r *RadioUserRepository) Count(network string) (int64, error) {
	var count int64
	q := r.db.Model(&RadioUser{})
	if network != "" {
		q = q.Where("network = ?", network)
	}
	err := q.Count(&count).Error
	return count, err
}

// DeleteOlderThan removes users on network not refreshed since cutoff,
// dropping ids that vanished from the upstream list.
func (r *RadioUserRepository) DeleteOlderThan(network string, cutoff time.Time) (int64, error) {
	res := r.db.Where("network = ? AND updated_at < ?", network, cutoff).Delete(&RadioUser{})
	return res.RowsAffected, res.Error
}

// LastUpdated returns the newest update time on network, or the zero time
// for an empty table.
func (r *RadioUserRepository) LastUpdated(network string) (time.Time, error) {
	var user RadioUser
	err := r.db.Where("network = ?", network).Order("updated_at DESC").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return user.UpdatedAt, nil
}

// FindByCallsignPattern searches for callsigns starting with prefix
func (r *RadioUserRepository) FindByCallsignPattern(prefix string, limit int) ([]RadioUser, error) {
	var users []RadioUser
	err := r.db.Where("callsign LIKE ?", prefix+"%").
		Order("callsign ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
