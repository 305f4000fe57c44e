package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/greensalary/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBLease is a lease row in run_lease. An expired lease may be taken over,
// so a crashed holder blocks runs for at most one TTL.
type DBLease struct {
	db     *gorm.DB
	name   string
	holder string
	ttl    time.Duration
	now    func() time.Time
}

func NewDBLease(db *gorm.DB, name, holder string, ttl time.Duration) *DBLease {
	return &DBLease{db: db, name: name, holder: holder, ttl: defaultTTL(ttl), now: time.Now}
}

func (l *DBLease) TryLock(ctx context.Context) (bool, error) {
	now := l.now()

	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RunLease{Name: l.name, Holder: "", ExpiresAt: time.Unix(0, 0).UTC()}).Error
	if err != nil {
		return false, fmt.Errorf("failed to ensure lease row %s: %w", l.name, err)
	}

	res := l.db.WithContext(ctx).Model(&model.RunLease{}).
		Where("name = ? AND (holder = ? OR expires_at < ?)", l.name, "", now).
		Updates(map[string]interface{}{
			"holder":     l.holder,
			"expires_at": now.Add(l.ttl),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.name, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *DBLease) Renew(ctx context.Context) (bool, error) {
	res := l.db.WithContext(ctx).Model(&model.RunLease{}).
		Where("name = ? AND holder = ?", l.name, l.holder).
		Update("expires_at", l.now().Add(l.ttl))
	if res.Error != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.name, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *DBLease) TTL() time.Duration {
	return l.ttl
}

func (l *DBLease) Unlock(ctx context.Context) error {
	err := l.db.WithContext(ctx).Model(&model.RunLease{}).
		Where("name = ? AND holder = ?", l.name, l.holder).
		Updates(map[string]interface{}{
			"holder":     "",
			"expires_at": l.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.name, err)
	}
	return nil
}
