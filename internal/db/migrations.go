package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'plate_status') THEN
			CREATE TYPE plate_status AS ENUM ('detected', 'verified', 'flagged');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS license_plates (
		id               BIGSERIAL PRIMARY KEY,
		plate_text       TEXT NOT NULL,
		confidence       NUMERIC(5,2) NOT NULL DEFAULT 0,
		best_confidence  NUMERIC(5,2) NOT NULL DEFAULT 0,
		coordinates      JSONB,
		best_coordinates JSONB,
		detection_count  INT NOT NULL DEFAULT 1,
		first_location   TEXT NOT NULL,
		latest_location  TEXT NOT NULL,
		status           plate_status NOT NULL DEFAULT 'detected',
		flag_reason      TEXT,
		flagged_at       TIMESTAMPTZ,
		verified_at      TIMESTAMPTZ,
		notes            TEXT,
		last_seen        TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_license_plates_plate_text ON license_plates(plate_text);`,
	`CREATE INDEX IF NOT EXISTS idx_license_plates_last_seen ON license_plates(last_seen);`,
	`CREATE INDEX IF NOT EXISTS idx_license_plates_status ON license_plates(status);`,
	`CREATE INDEX IF NOT EXISTS idx_license_plates_text_seen ON license_plates(plate_text, last_seen DESC);`,
	`CREATE OR REPLACE FUNCTION set_updated_at()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_license_plates_updated_at') THEN
			CREATE TRIGGER trg_license_plates_updated_at
				BEFORE UPDATE ON license_plates
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
