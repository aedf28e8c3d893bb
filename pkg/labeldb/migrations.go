package labeldb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id INTEGER PRIMARY KEY,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			model TEXT NOT NULL,
			upscale_factor REAL NOT NULL,
			started_at INT NOT NULL,
			finished_at INT,
			frames INT NOT NULL DEFAULT 0
		);

		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			run_id INT NOT NULL,
			frame INT NOT NULL,
			x1 INT NOT NULL,
			y1 INT NOT NULL,
			x2 INT NOT NULL,
			y2 INT NOT NULL,
			confidence REAL NOT NULL
		);
		CREATE INDEX idx_detection_run_id_frame ON detection (run_id, frame);
	`))

	return migs
}
