package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cgast/vxcore/pkg/session"
)

// SessionRow is the lab database row for one session.
type SessionRow struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Experiment  string     `gorm:"type:varchar(200);not null;index" json:"experiment"`
	Participant string     `gorm:"type:varchar(100);not null;index" json:"participant"`
	MetaJSON    string     `gorm:"type:text" json:"meta_json"`
	Factors     string     `gorm:"type:varchar(500)" json:"factors"`
	TrialCount  int        `json:"trial_count"`
	Seed        int64      `json:"seed"`
	Status      string     `gorm:"type:varchar(20);index" json:"status"`
	Started     time.Time  `json:"started"`
	Finished    *time.Time `json:"finished"`
}

func (SessionRow) TableName() string { return "vx_sessions" }

// TrialRow is the lab database row for one trial.
type TrialRow struct {
	SessionID    string  `gorm:"type:varchar(36);primaryKey" json:"session_id"`
	Trial        int     `gorm:"primaryKey;autoIncrement:false" json:"trial"`
	Repetition   int     `json:"repetition"`
	ParamsJSON   string  `gorm:"type:text" json:"params_json"`
	StartTime    float64 `json:"start_time"`
	FixOnsetTime float64 `json:"fix_onset_time"`
	GoTime       float64 `json:"go_time"`
	ReachTime    float64 `json:"reach_time"`
	RT           float64 `gorm:"column:rt" json:"rt"`
	HitX         float64 `json:"hit_x"`
	HitY         float64 `json:"hit_y"`
	HitZ         float64 `json:"hit_z"`
	Hemifield    string  `gorm:"type:varchar(5)" json:"hemifield"`
	Correct      bool    `json:"correct"`
}

func (TrialRow) TableName() string { return "vx_trials" }

// SampleRow is the lab database row for one tracked position.
type SampleRow struct {
	SessionID string  `gorm:"type:varchar(36);primaryKey" json:"session_id"`
	Seq       int     `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Trial     int     `gorm:"index" json:"trial"`
	TimeMS    float64 `json:"time_ms"`
	Handle    string  `gorm:"type:varchar(100)" json:"handle"`
	Frame     string  `gorm:"type:varchar(10)" json:"frame"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

func (SampleRow) TableName() string { return "vx_samples" }

// MySQL stores sessions in a shared lab database.
type MySQL struct {
	db *gorm.DB
}

// OpenMySQL connects to dsn and migrates the tables.
func OpenMySQL(dsn string) (*MySQL, error) {
	if dsn == "" {
		return nil, errors.New("mysql output requires a dsn")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return NewGorm(db)
}

// NewGorm uses an existing gorm connection.
func NewGorm(db *gorm.DB) (*MySQL, error) {
	if err := db.AutoMigrate(&SessionRow{}, &TrialRow{}, &SampleRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &MySQL{db: db}, nil
}

func (m *MySQL) Format() string { return "mysql" }

func (m *MySQL) Target(rec session.Record) string { return "mysql:" + SessionRow{}.TableName() }

func (m *MySQL) Save(ctx context.Context, rec session.Record) error {
	srow, trows, err := rows(rec)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&srow).Error; err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		if err := tx.Where("session_id = ?", srow.ID).Delete(&TrialRow{}).Error; err != nil {
			return fmt.Errorf("clear trials: %w", err)
		}
		if len(trows) > 0 {
			if err := tx.CreateInBatches(trows, 200).Error; err != nil {
				return fmt.Errorf("insert trials: %w", err)
			}
		}
		if err := tx.Where("session_id = ?", srow.ID).Delete(&SampleRow{}).Error; err != nil {
			return fmt.Errorf("clear samples: %w", err)
		}
		if len(rec.Samples) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(sampleRows(rec), 1000).Error; err != nil {
			return fmt.Errorf("insert samples: %w", err)
		}
		return nil
	})
}

func sampleRows(rec session.Record) []SampleRow {
	out := make([]SampleRow, len(rec.Samples))
	for i, s := range rec.Samples {
		out[i] = SampleRow{
			SessionID: rec.Meta.ID,
			Seq:       i,
			Trial:     s.Trial,
			TimeMS:    s.TimeMS,
			Handle:    string(s.Handle),
			Frame:     string(s.Frame),
			X:         s.Pos.X(),
			Y:         s.Pos.Y(),
			Z:         s.Pos.Z(),
		}
	}
	return out
}

// Close closes the underlying connection pool.
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rows(rec session.Record) (SessionRow, []TrialRow, error) {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return SessionRow{}, nil, fmt.Errorf("marshal session: %w", err)
	}
	srow := SessionRow{
		ID:          rec.Meta.ID,
		Experiment:  rec.Meta.Experiment,
		Participant: rec.Meta.Participant.ID,
		MetaJSON:    string(meta),
		Factors:     strings.Join(rec.Meta.Factors, ","),
		TrialCount:  rec.Meta.TrialCount,
		Seed:        rec.Meta.Seed,
		Status:      string(rec.Meta.Status),
		Started:     rec.Meta.Started,
	}
	if !rec.Meta.Finished.IsZero() {
		f := rec.Meta.Finished
		srow.Finished = &f
	}

	trows := make([]TrialRow, 0, len(rec.Results))
	for _, r := range rec.Results {
		params, err := json.Marshal(r.Params)
		if err != nil {
			return SessionRow{}, nil, fmt.Errorf("marshal params of trial %d: %w", r.Trial, err)
		}
		trows = append(trows, TrialRow{
			SessionID:    rec.Meta.ID,
			Trial:        r.Trial,
			Repetition:   r.Repetition,
			ParamsJSON:   string(params),
			StartTime:    r.StartTime,
			FixOnsetTime: r.FixOnsetTime,
			GoTime:       r.GoTime,
			ReachTime:    r.ReachTime,
			RT:           r.RT,
			HitX:         r.Hit.X(),
			HitY:         r.Hit.Y(),
			HitZ:         r.Hit.Z(),
			Hemifield:    string(r.Hemifield),
			Correct:      r.Correct,
		})
	}
	return srow, trows, nil
}
