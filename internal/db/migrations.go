package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	`CREATE TABLE IF NOT EXISTS parking_lots (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		user_id         UUID NOT NULL,
		name            TEXT NOT NULL,
		address         TEXT,
		total_spots     INT NOT NULL DEFAULT 0,
		available_spots INT NOT NULL DEFAULT 0,
		photos          JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_lots_user_id ON parking_lots(user_id);`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		lot_id          UUID NOT NULL REFERENCES parking_lots(id) ON DELETE CASCADE,
		user_id         UUID NOT NULL,
		spot_number     TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'upcoming',
		parking_status  TEXT NOT NULL DEFAULT 'normal',
		start_date      TIMESTAMPTZ NOT NULL,
		end_date        TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_lot_spot ON bookings(lot_id, spot_number);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);`,

	// sensor_id is the device-facing identifier; api_key authenticates
	// webhook calls. last_heartbeat is touched on every accepted reading.
	`CREATE TABLE IF NOT EXISTS sensor_configs (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		lot_id          UUID NOT NULL REFERENCES parking_lots(id) ON DELETE CASCADE,
		spot_number     TEXT NOT NULL,
		sensor_id       TEXT NOT NULL,
		api_key         TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		last_heartbeat  TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_sensor_configs_sensor_id ON sensor_configs(sensor_id);`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_configs_lot_id ON sensor_configs(lot_id);`,

	// Append-only event log, one row per processed reading. Distances
	// are duplicated out of sensor_data so the history lookup does not
	// have to parse JSON.
	`CREATE TABLE IF NOT EXISTS parking_events (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		lot_id          UUID NOT NULL REFERENCES parking_lots(id) ON DELETE CASCADE,
		booking_id      UUID REFERENCES bookings(id) ON DELETE SET NULL,
		spot_number     TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		left_distance   NUMERIC(7,2) NOT NULL,
		center_distance NUMERIC(7,2) NOT NULL,
		right_distance  NUMERIC(7,2) NOT NULL,
		sensor_data     JSONB NOT NULL,
		detected_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_events_history ON parking_events(lot_id, spot_number, detected_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_events_booking_id ON parking_events(booking_id) WHERE booking_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_parking_events_event_type ON parking_events(event_type);`,

	`CREATE TABLE IF NOT EXISTS penalties (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		booking_id      UUID NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		lot_id          UUID NOT NULL REFERENCES parking_lots(id) ON DELETE CASCADE,
		user_id         UUID NOT NULL,
		penalty_type    TEXT NOT NULL,
		amount          NUMERIC(10,2) NOT NULL,
		reason          TEXT,
		status          TEXT NOT NULL DEFAULT 'pending',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_penalties_booking_id ON penalties(booking_id);`,
	// At most one pending misparking penalty per booking. The service
	// also pre-checks, but the index makes the guarantee hold under
	// concurrent webhooks for the same booking.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_penalties_pending_mispark
		ON penalties(booking_id)
		WHERE penalty_type = 'misparking' AND status = 'pending';`,

	`CREATE TABLE IF NOT EXISTS push_subscriptions (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		user_id         UUID NOT NULL,
		endpoint        TEXT NOT NULL,
		p256dh          TEXT NOT NULL,
		auth            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_push_subscriptions_user_endpoint ON push_subscriptions(user_id, endpoint);`,
	`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id ON push_subscriptions(user_id);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
