package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// AttendanceRepository keeps an audit row for every delivery attempt.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// RecordDelivery stores rec together with the PPE verdict it was built from and
// the outcome of delivering it.
func (r *AttendanceRepository) RecordDelivery(ctx context.Context, rec attendance.Record, verdict ppe.Verdict, deliveryErr error) error {
	items := rec.PPEItems
	if items == nil {
		items = map[string]bool{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal ppe items: %w", err)
	}

	missing := make([]string, 0, len(verdict.Missing))
	for _, item := range verdict.Missing {
		missing = append(missing, string(item))
	}

	var statusCode sql.NullInt32
	errText := ""
	if deliveryErr != nil {
		errText = deliveryErr.Error()
		var de *attendance.DeliveryError
		if errors.As(deliveryErr, &de) {
			statusCode = sql.NullInt32{Int32: int32(de.StatusCode), Valid: true}
		}
	}

	var capturedAt sql.NullTime
	if !rec.CapturedAt.IsZero() {
		capturedAt = sql.NullTime{Time: rec.CapturedAt, Valid: true}
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO attendance_events (id, identity, delivered, status_code, error,
		                               recognition_seconds, ppe_available, ppe_compliant,
		                               ppe_items, ppe_missing, ppe_confidence, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID.String(),
		rec.Identity,
		deliveryErr == nil,
		statusCode,
		errText,
		rec.RecognitionSeconds,
		verdict.Available,
		rec.PPECompliant,
		itemsJSON,
		pq.Array(missing),
		rec.PPEConfidence,
		capturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attendance event for %s: %w", rec.Identity, err)
	}
	return nil
}

// Recent returns up to limit audited attempts, newest first.
func (r *AttendanceRepository) Recent(ctx context.Context, limit int) ([]database.AttendanceEvent, error) {
	if limit <= 0 {
		return []database.AttendanceEvent{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, delivered, status_code, error, recognition_seconds,
		       ppe_available, ppe_compliant, ppe_items, ppe_missing, ppe_confidence,
		       captured_at, created_at
		FROM attendance_events
		ORDER BY created_at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attendance events: %w", err)
	}
	defer rows.Close()

	events := []database.AttendanceEvent{}
	for rows.Next() {
		ev, err := scanAttendanceEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance events: %w", err)
	}
	return events, nil
}

// CountDelivered returns the number of successfully delivered records.
func (r *AttendanceRepository) CountDelivered(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_events WHERE delivered").Scan(&count); err != nil {
		return 0, fmt.Errorf("count delivered events: %w", err)
	}
	return count, nil
}

// DeliveredSince returns identities with a successful delivery at or after since.
func (r *AttendanceRepository) DeliveredSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity
		FROM attendance_events
		WHERE delivered AND created_at >= $1
		GROUP BY identity
		ORDER BY MIN(created_at)
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query delivered identities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivered identities: %w", err)
	}
	return out, nil
}

func scanAttendanceEvent(scanner interface{ Scan(...any) error }) (database.AttendanceEvent, error) {
	var ev database.AttendanceEvent
	var statusCode sql.NullInt32
	var itemsJSON []byte
	var missing pq.StringArray
	var capturedAt sql.NullTime

	err := scanner.Scan(
		&ev.ID,
		&ev.Identity,
		&ev.Delivered,
		&statusCode,
		&ev.Error,
		&ev.RecognitionSeconds,
		&ev.PPEAvailable,
		&ev.PPECompliant,
		&itemsJSON,
		&missing,
		&ev.PPEConfidence,
		&capturedAt,
		&ev.CreatedAt,
	)
	if err != nil {
		return ev, fmt.Errorf("scan attendance event: %w", err)
	}

	if statusCode.Valid {
		ev.StatusCode = int(statusCode.Int32)
	}
	if capturedAt.Valid {
		ev.CapturedAt = capturedAt.Time
	}
	ev.PPEMissing = []string(missing)
	ev.PPEItems = map[string]bool{}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &ev.PPEItems); err != nil {
			return ev, fmt.Errorf("decode ppe items of %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

var _ database.AttendanceReader = (*AttendanceRepository)(nil)
