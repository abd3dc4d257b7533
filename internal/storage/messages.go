package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const messageColumns = `
	id, channel_id, message_id, text, text_normalized, date, views, forwards,
	has_media, media_type, indexed_at, last_updated_at`

// Upsert inserts a message or updates the stored copy of the same
// (ChannelID, MessageID). It reports whether a new row was created.
//
// On update the text is only replaced when the new text is non-blank, the
// engagement counters are always replaced and IndexedAt is left alone.
func (d *DB) Upsert(ctx context.Context, msg *IndexedMessage) (*IndexedMessage, bool, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storeErr("begin upsert", err)
	}
	defer tx.Rollback()

	existing, err := getMessage(ctx, tx, msg.ChannelID, msg.MessageID)
	if err != nil {
		return nil, false, storeErr("lookup message", err)
	}

	hasText := strings.TrimSpace(msg.Text) != ""
	now := d.now().UTC()

	var stored *IndexedMessage
	created := existing == nil

	if created {
		if !hasText {
			return nil, false, ErrEmptyText
		}

		stored = &IndexedMessage{
			ChannelID:      msg.ChannelID,
			MessageID:      msg.MessageID,
			Text:           msg.Text,
			NormalizedText: NormalizeText(msg.Text),
			Date:           utcPtr(msg.Date),
			Views:          msg.Views,
			Forwards:       msg.Forwards,
			HasMedia:       msg.HasMedia,
			MediaKind:      mediaOrNone(msg.MediaKind),
			IndexedAt:      now,
			LastUpdatedAt:  now,
		}

		res, err := tx.ExecContext(ctx, `
		INSERT INTO channel_messages (
			channel_id, message_id, text, text_normalized, date, views, forwards,
			has_media, media_type, indexed_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ChannelID, stored.MessageID, stored.Text, stored.NormalizedText,
			nullTime(stored.Date), stored.Views, stored.Forwards,
			stored.HasMedia, string(stored.MediaKind), stored.IndexedAt, stored.LastUpdatedAt,
		)
		if err != nil {
			return nil, false, storeErr("insert message", err)
		}
		if stored.ID, err = res.LastInsertId(); err != nil {
			return nil, false, storeErr("insert message id", err)
		}
	} else {
		stored = existing
		if hasText {
			stored.Text = msg.Text
			stored.NormalizedText = NormalizeText(msg.Text)
		}
		stored.Views = msg.Views
		stored.Forwards = msg.Forwards

		// LastUpdatedAt must move past IndexedAt even on a coarse clock
		if !now.After(stored.LastUpdatedAt) {
			now = stored.LastUpdatedAt.Add(time.Nanosecond)
		}
		stored.LastUpdatedAt = now

		_, err := tx.ExecContext(ctx, `
		UPDATE channel_messages
		SET text = ?, text_normalized = ?, views = ?, forwards = ?, last_updated_at = ?
		WHERE id = ?`,
			nullString(stored.Text), nullString(stored.NormalizedText),
			stored.Views, stored.Forwards, stored.LastUpdatedAt, stored.ID,
		)
		if err != nil {
			return nil, false, storeErr("update message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, storeErr("commit upsert", err)
	}

	return stored, created, nil
}

// Get retrieves a message by its composite key
func (d *DB) Get(ctx context.Context, channelID string, messageID int64) (*IndexedMessage, error) {
	msg, err := getMessage(ctx, d.db, channelID, messageID)
	if err != nil {
		return nil, storeErr("get message", err)
	}
	return msg, nil
}

func getMessage(ctx context.Context, q rowQuerier, channelID string, messageID int64) (*IndexedMessage, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM channel_messages WHERE channel_id = ? AND message_id = ?`,
		channelID, messageID,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Scan returns every message with text that matches the filter, in storage
// order. Ranking is left to the caller.
func (d *DB) Scan(ctx context.Context, filter ScanFilter) ([]*IndexedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM channel_messages WHERE text IS NOT NULL`
	var args []any

	if filter.Contains != "" {
		// instr is a plain substring test, no LIKE wildcards to escape
		query += " AND instr(text_normalized, ?) > 0"
		args = append(args, filter.Contains)
	}

	if len(filter.ChannelIDs) > 0 {
		query += " AND channel_id IN (?" + strings.Repeat(", ?", len(filter.ChannelIDs)-1) + ")"
		for _, id := range filter.ChannelIDs {
			args = append(args, id)
		}
	}

	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("scan messages", err)
	}
	defer rows.Close()

	var msgs []*IndexedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr("scan message row", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scan messages", err)
	}

	return msgs, nil
}

// Count returns the total number of stored messages
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM channel_messages").Scan(&count)
	if err != nil {
		return 0, storeErr("count messages", err)
	}
	return count, nil
}

// ChannelStats summarizes the stored messages of one channel
func (d *DB) ChannelStats(ctx context.Context, channelID string) (*ChannelStats, error) {
	stats := &ChannelStats{ChannelID: channelID}

	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(views), 0), COALESCE(SUM(forwards), 0)
	FROM channel_messages
	WHERE channel_id = ?`, channelID,
	).Scan(&stats.TotalMessages, &stats.TotalViews, &stats.TotalForwards)
	if err != nil {
		return nil, storeErr("channel stats", err)
	}

	if stats.TotalMessages == 0 {
		return stats, nil
	}

	var latest sql.NullTime
	err = d.db.QueryRowContext(ctx, `
	SELECT date FROM channel_messages
	WHERE channel_id = ? AND date IS NOT NULL
	ORDER BY date DESC LIMIT 1`, channelID,
	).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("channel latest message", err)
	}
	if latest.Valid {
		stats.LatestMessage = &latest.Time
	}

	var indexed time.Time
	err = d.db.QueryRowContext(ctx, `
	SELECT last_updated_at FROM channel_messages
	WHERE channel_id = ?
	ORDER BY last_updated_at DESC LIMIT 1`, channelID,
	).Scan(&indexed)
	if err != nil {
		return nil, storeErr("channel last indexed", err)
	}
	stats.LastIndexedAt = &indexed

	return stats, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*IndexedMessage, error) {
	msg := &IndexedMessage{}
	var (
		text, normalized sql.NullString
		date             sql.NullTime
		media            string
	)

	err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.MessageID, &text, &normalized, &date,
		&msg.Views, &msg.Forwards, &msg.HasMedia, &media, &msg.IndexedAt, &msg.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Text = text.String
	msg.NormalizedText = normalized.String
	msg.MediaKind = MediaKind(media)
	if date.Valid {
		t := date.Time.UTC()
		msg.Date = &t
	}
	msg.IndexedAt = msg.IndexedAt.UTC()
	msg.LastUpdatedAt = msg.LastUpdatedAt.UTC()

	return msg, nil
}

func mediaOrNone(kind MediaKind) MediaKind {
	if kind == "" {
		return MediaNone
	}
	return kind
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
