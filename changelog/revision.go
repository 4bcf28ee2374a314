package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Revision 版本号 major.minor.rev
type Revision struct {
	Major int
	Minor int
	Rev   int
}

func (r Revision) String() string {
	return fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Rev)
}

// Level 发布动作提升的版本号级别
type Level int

const (
	LevelRev Level = iota
	LevelMinor
	LevelMajor
)

// Next 提升 level 对应的版本号，低位归零
func (r Revision) Next(level Level) Revision {
	switch level {
	case LevelMajor:
		return Revision{Major: r.Major + 1}
	case LevelMinor:
		return Revision{Major: r.Major, Minor: r.Minor + 1}
	default:
		return Revision{Major: r.Major, Minor: r.Minor, Rev: r.Rev + 1}
	}
}

// RevisionLog 发布版本记录，比变更日志粒度更粗
type RevisionLog struct {
	ID      int64     `gorm:"primaryKey;column:id"`
	Major   int       `gorm:"column:major;not null;uniqueIndex:uk_revision"`
	Minor   int       `gorm:"column:minor;not null;uniqueIndex:uk_revision"`
	Rev     int       `gorm:"column:rev;not null;uniqueIndex:uk_revision"`
	Stamp   time.Time `gorm:"column:stamp;not null"`
	Summary string    `gorm:"column:summary;size:200"`
}

func (RevisionLog) TableName() string {
	return "meta_revision"
}

func (r *RevisionLog) Revision() Revision {
	return Revision{Major: r.Major, Minor: r.Minor, Rev: r.Rev}
}

const initialRevisionSummary = "initial revision"

// currentRevision 最新的发布版本，表为空时写入 0.0.1
func currentRevision(ctx context.Context, db *gorm.DB) (*RevisionLog, error) {
	var rl RevisionLog
	err := db.WithContext(ctx).Order("major DESC, minor DESC, rev DESC").First(&rl).Error
	if err == nil {
		return &rl, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to query revision")
	}
	rl = RevisionLog{Major: 0, Minor: 0, Rev: 1, Stamp: time.Now(), Summary: initialRevisionSummary}
	if err := db.WithContext(ctx).Create(&rl).Error; err != nil {
		return nil, errors.Wrap(err, "failed to create initial revision")
	}
	return &rl, nil
}
