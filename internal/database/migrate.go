package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
//
// reservations.active_key is NULL for CANCELLED rows, so the unique index
// on it admits at most one active reservation per seat and screening even
// if a writer bypassed the seat_slots lock.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS seat_grades (
		code  VARCHAR(32) PRIMARY KEY,
		price BIGINT NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seats (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		screen_id   BIGINT UNSIGNED NOT NULL,
		row_label   VARCHAR(8) NOT NULL,
		seat_number INT UNSIGNED NOT NULL,
		grade_code  VARCHAR(32) NOT NULL,
		UNIQUE KEY uq_seat_position (screen_id, row_label, seat_number),
		CONSTRAINT fk_seat_grade FOREIGN KEY (grade_code) REFERENCES seat_grades(code)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS screenings (
		id          VARCHAR(64) PRIMARY KEY,
		movie_title VARCHAR(255) NOT NULL,
		screen_id   BIGINT UNSIGNED NOT NULL,
		starts_at   DATETIME NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seat_slots (
		screening_id VARCHAR(64) NOT NULL,
		seat_id      BIGINT UNSIGNED NOT NULL,
		next_seq     INT UNSIGNED NOT NULL DEFAULT 1,
		PRIMARY KEY (screening_id, seat_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id              VARCHAR(128) PRIMARY KEY,
		screening_id    VARCHAR(64) NOT NULL,
		seat_id         BIGINT UNSIGNED NOT NULL,
		member_id       BIGINT UNSIGNED NULL,
		phone           VARCHAR(32) NULL,
		pin_hash        VARCHAR(100) NULL,
		status          ENUM('PENDING','COMPLETED','CANCELLED') NOT NULL,
		base_price      BIGINT NOT NULL,
		discount_code   VARCHAR(32) NULL,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		final_price     BIGINT NOT NULL,
		issued          BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_reason   VARCHAR(32) NULL,
		payment_id      CHAR(36) NULL,
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL,
		active_key      VARCHAR(200) GENERATED ALWAYS AS
		                (IF(status = 'CANCELLED', NULL, CONCAT(screening_id, '#', seat_id))) STORED,
		UNIQUE KEY uq_reservation_active (active_key),
		KEY idx_reservation_screening_status (screening_id, status),
		KEY idx_reservation_seat (screening_id, seat_id),
		KEY idx_reservation_status_created (status, created_at),
		KEY idx_reservation_member (member_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             CHAR(36) PRIMARY KEY,
		reservation_id VARCHAR(128) NOT NULL,
		method         VARCHAR(32) NOT NULL,
		amount         BIGINT NOT NULL,
		points_used    BIGINT NOT NULL DEFAULT 0,
		charged        BIGINT NOT NULL,
		status         VARCHAR(16) NOT NULL,
		approval_token VARCHAR(255) NULL,
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL,
		KEY idx_payment_reservation (reservation_id),
		CONSTRAINT fk_payment_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS member_points (
		member_id BIGINT UNSIGNED PRIMARY KEY,
		available BIGINT NOT NULL DEFAULT 0,
		pending   BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS points_ledger (
		id             CHAR(36) PRIMARY KEY,
		member_id      BIGINT UNSIGNED NOT NULL,
		reservation_id VARCHAR(128) NOT NULL,
		kind           ENUM('ACCRUE','USE','EXPIRE') NOT NULL,
		amount         BIGINT NOT NULL,
		pending        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     DATETIME NOT NULL,
		KEY idx_points_member_created (member_id, created_at),
		KEY idx_points_reservation (reservation_id)
	) ENGINE=InnoDB`,
}

// Migrate creates any missing table.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
