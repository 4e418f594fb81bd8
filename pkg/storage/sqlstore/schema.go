package sqlstore

import (
	"context"
	"fmt"
)

// First message ID of an empty store.
const firstMessageID = 1001

// schema holds the table definitions in creation order.
//
// All timestamps are unix seconds supplied by the store clock.
// message_seq holds a single row locked by producers while allocating IDs.
var schema = []string{
	// language=MariaDB
	`CREATE TABLE IF NOT EXISTS queues (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	tenant VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	metadata LONGTEXT NOT NULL,
	UNIQUE KEY queues_tenant_name (tenant, name)
) ENGINE=InnoDB;`,
	// language=MariaDB
	`CREATE TABLE IF NOT EXISTS messages (
	id BIGINT NOT NULL PRIMARY KEY,
	qid BIGINT NOT NULL,
	ttl BIGINT NOT NULL,
	content LONGTEXT NOT NULL,
	client VARCHAR(255) NOT NULL,
	created BIGINT NOT NULL,
	claim_id VARCHAR(32) NULL,
	claim_expires BIGINT NULL,
	KEY messages_qid_id (qid, id),
	KEY messages_claim_id (claim_id),
	CONSTRAINT messages_qid FOREIGN KEY (qid) REFERENCES queues (id) ON DELETE CASCADE
) ENGINE=InnoDB;`,
	// language=MariaDB
	`CREATE TABLE IF NOT EXISTS claims (
	id VARCHAR(32) NOT NULL PRIMARY KEY,
	qid BIGINT NOT NULL,
	ttl BIGINT NOT NULL,
	expires BIGINT NOT NULL,
	KEY claims_qid_expires (qid, expires),
	CONSTRAINT claims_qid FOREIGN KEY (qid) REFERENCES queues (id) ON DELETE CASCADE
) ENGINE=InnoDB;`,
	// language=MariaDB
	`CREATE TABLE IF NOT EXISTS message_seq (
	id TINYINT NOT NULL PRIMARY KEY
) ENGINE=InnoDB;`,
	// language=MariaDB
	`INSERT IGNORE INTO message_seq (id) VALUES (1);`,
}

// CreateTables creates the tables if they don't exist yet.
func (d *Driver) CreateTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
