package labeldb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/detect"
	"gorm.io/gorm"
)

// Run is one pass of the detector over a video
type Run struct {
	ID            int64       `gorm:"primaryKey" json:"id"`
	Input         string      `json:"input"`
	Output        string      `json:"output"`
	Model         string      `json:"model"`
	UpscaleFactor float64     `json:"upscaleFactor"`
	StartedAt     dbh.IntTime `json:"startedAt"`
	FinishedAt    dbh.IntTime `gorm:"default:null" json:"finishedAt"`
	Frames        int64       `json:"frames"`
}

// Detection is a person found in one frame of a run
type Detection struct {
	ID         int64   `gorm:"primaryKey" json:"id"`
	RunID      int64   `json:"runID"`
	Frame      int64   `json:"frame"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float32 `json:"confidence"`
}

// LabelDB records every detection that the pipeline makes, so that runs can be queried afterwards
type LabelDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open creates or opens an sqlite label database
func Open(log logs.Log, filename string) (*LabelDB, error) {
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(filename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open label database %v: %w", filename, err)
	}
	return &LabelDB{
		log: log,
		db:  db,
	}, nil
}

func (l *LabelDB) Close() {
	if sqlDB, err := l.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (l *LabelDB) StartRun(input, output, model string, upscaleFactor float64) (*Run, error) {
	run := &Run{
		Input:         input,
		Output:        output,
		Model:         model,
		UpscaleFactor: upscaleFactor,
		StartedAt:     dbh.MakeIntTime(time.Now()),
	}
	if err := l.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// AddFrame records the detections of one frame
func (l *LabelDB) AddFrame(runID int64, frame int, detections []detect.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	rows := make([]Detection, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, Detection{
			RunID:      runID,
			Frame:      int64(frame),
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
			Confidence: d.Confidence,
		})
	}
	return l.db.Create(&rows).Error
}

func (l *LabelDB) FinishRun(runID int64, frames int) error {
	return l.db.Model(&Run{}).Where("id = ?", runID).Updates(map[string]any{
		"finished_at": dbh.MakeIntTime(time.Now()),
		"frames":      frames,
	}).Error
}

func (l *LabelDB) Run(runID int64) (*Run, error) {
	run := &Run{}
	if err := l.db.First(run, runID).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Detections returns all detections of a run, ordered by frame
func (l *LabelDB) Detections(runID int64) ([]Detection, error) {
	rows := []Detection{}
	if err := l.db.Where("run_id = ?", runID).Order("frame, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
