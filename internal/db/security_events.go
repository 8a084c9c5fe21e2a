package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"account-console/internal/models"
	"account-console/internal/security"
)

// SecurityEvents persists the audit feed shown on the dashboard.
type SecurityEvents struct {
	log *slog.Logger
	db  *DB
}

func NewSecurityEvents(log *slog.Logger, db *DB) *SecurityEvents {
	return &SecurityEvents{log: log, db: db}
}

func (s *SecurityEvents) Insert(ctx context.Context, ev models.SecurityEvent) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO security_events (id, kind, subject, route, client_ip, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Kind, ev.Subject, ev.Route, ev.ClientIP, ev.At)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *SecurityEvents) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, kind, COALESCE(subject, ''), COALESCE(route, ''), COALESCE(client_ip, ''), occurred_at
		 FROM security_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []models.SecurityEvent
	for rows.Next() {
		var ev models.SecurityEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Subject, &ev.Route, &ev.ClientIP, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SecurityEvents) CountSince(ctx context.Context, kind string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM security_events WHERE kind = $1 AND occurred_at >= $2`,
		kind, since).Scan(&n)
	return n, err
}

// Emit implements security.Sink: best-effort persistence off the request
// path. Insert failures are logged and dropped, never surfaced.
func (s *SecurityEvents) Emit(ctx context.Context, ev security.Event) {
	err := s.Insert(ctx, models.SecurityEvent{
		ID:       ev.ID,
		Kind:     ev.Kind,
		Subject:  ev.Subject,
		Route:    ev.Route,
		ClientIP: ev.ClientIP,
		At:       ev.At,
	})
	if err != nil {
		s.log.Warn("security_event_persist_failed", "kind", ev.Kind, "error", err.Error())
	}
}
