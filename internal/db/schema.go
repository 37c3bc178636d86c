package db

import (
	"context"
	"database/sql"
)

const RequestsTable = "requests"

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
	id                  BIGINT AUTO_INCREMENT PRIMARY KEY,
	origin_address      VARCHAR(255) NOT NULL,
	destination_address VARCHAR(255) NOT NULL,
	origin_lat          DECIMAL(10,6) NULL,
	origin_lng          DECIMAL(10,6) NULL,
	destination_lat     DECIMAL(10,6) NULL,
	destination_lng     DECIMAL(10,6) NULL,
	estimated_distance  DECIMAL(10,2) NULL,
	estimated_time      INT NULL,
	created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status              ENUM('pending','in_progress','completed','cancelled') NOT NULL DEFAULT 'pending',
	driver_id           BIGINT NULL,
	user_id             BIGINT NOT NULL,
	vehicle_id          BIGINT NULL,
	INDEX idx_requests_status_created (status, created_at),
	INDEX idx_requests_user (user_id, created_at),
	INDEX idx_requests_driver (driver_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the requests table when it is missing.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	if HasTable(ctx, conn, RequestsTable) {
		return nil
	}
	_, err := conn.ExecContext(ctx, createRequestsTable)
	return err
}
