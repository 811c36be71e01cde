// Package database provides schema instantiation
package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the risk-engine database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (id TEXT PRIMARY KEY, telegram_id INTEGER NOT NULL UNIQUE, username TEXT, status TEXT NOT NULL DEFAULT 'active', status_reason TEXT, registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
	`CREATE TABLE IF NOT EXISTS captcha_sessions (id TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id), challenge_type TEXT NOT NULL, difficulty TEXT NOT NULL, prompt TEXT NOT NULL, category TEXT, answer TEXT NOT NULL, attempts INTEGER NOT NULL DEFAULT 0, max_attempts INTEGER NOT NULL, created_at TIMESTAMP NOT NULL, expires_at TIMESTAMP NOT NULL, completed_at TIMESTAMP, fingerprint_hash TEXT, ip_address TEXT, metadata TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS captcha_results (id TEXT PRIMARY KEY, session_id TEXT NOT NULL REFERENCES captcha_sessions(id), user_id TEXT NOT NULL, ip_address TEXT, success BOOLEAN NOT NULL, suspicious BOOLEAN NOT NULL DEFAULT 0, confidence REAL NOT NULL, created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS device_fingerprints (id TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id), hash TEXT NOT NULL, canvas_hash TEXT, hardware_signature TEXT, quality REAL NOT NULL, risk_score REAL NOT NULL, fallback BOOLEAN NOT NULL DEFAULT 0, created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS user_blocks (id TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id), reason TEXT NOT NULL, created_at TIMESTAMP NOT NULL, expires_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS ip_blocks (id TEXT PRIMARY KEY, ip_address TEXT NOT NULL, reason TEXT NOT NULL, created_at TIMESTAMP NOT NULL, expires_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS ban_records (id TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id), reason TEXT NOT NULL, severity TEXT NOT NULL, evidence TEXT NOT NULL, issued_by TEXT NOT NULL, created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS security_incidents (id TEXT PRIMARY KEY, kind TEXT NOT NULL, user_id TEXT NOT NULL, severity TEXT NOT NULL, summary TEXT NOT NULL, encrypted_evidence TEXT, created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS threat_indicators (id TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id), kind TEXT NOT NULL, score REAL NOT NULL, detail TEXT, created_at TIMESTAMP NOT NULL)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_captcha_sessions_user ON captcha_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_captcha_sessions_expires ON captcha_sessions(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_captcha_results_user_created ON captcha_results(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_captcha_results_ip_created ON captcha_results(ip_address, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_device_fingerprints_hash ON device_fingerprints(hash)`,
	`CREATE INDEX IF NOT EXISTS idx_device_fingerprints_canvas ON device_fingerprints(canvas_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_device_fingerprints_hardware ON device_fingerprints(hardware_signature)`,
	`CREATE INDEX IF NOT EXISTS idx_device_fingerprints_user ON device_fingerprints(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_blocks_user ON user_blocks(user_id, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ip_blocks_ip ON ip_blocks(ip_address, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_indicators_user ON threat_indicators(user_id)`,
}
