package database

import (
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// Schema est le schéma CQL du keyspace des commandes (voir aussi scripts/scylladb_init.cql).
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id text PRIMARY KEY,
		owner_user_id text,
		status text,
		version bigint,
		payload text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS orders_by_owner (
		owner_user_id text,
		created_at timestamp,
		order_id text,
		PRIMARY KEY ((owner_user_id), created_at, order_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, order_id ASC)`,
	`CREATE TABLE IF NOT EXISTS orders_by_status (
		status text,
		order_id text,
		PRIMARY KEY ((status), order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		recipient_user_id text,
		created_at timestamp,
		notification_id text,
		type text,
		title text,
		message text,
		priority text,
		related_entity_id text,
		related_entity_kind text,
		redirect_hint text,
		is_read boolean,
		PRIMARY KEY ((recipient_user_id), created_at, notification_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, notification_id ASC)`,
	`CREATE TABLE IF NOT EXISTS notifications_by_id (
		notification_id text PRIMARY KEY,
		recipient_user_id text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		order_id text,
		created_at timestamp,
		message_id text,
		author_id text,
		author_role text,
		content text,
		PRIMARY KEY ((order_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		resource text,
		resource_id text,
		id timeuuid,
		user_id text,
		user_role text,
		action text,
		old_value text,
		new_value text,
		ip_address text,
		user_agent text,
		success boolean,
		error_msg text,
		timestamp timestamp,
		PRIMARY KEY ((resource, resource_id), id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
}

// Migrate crée les tables manquantes (SCYLLA_AUTO_MIGRATE=true).
func Migrate(session *gocql.Session) error {
	for _, stmt := range Schema {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("migration ScyllaDB: %w", err)
		}
	}
	zap.L().Info("✅ Schéma ScyllaDB à jour", zap.Int("tables", len(Schema)))
	return nil
}
