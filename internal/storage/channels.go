package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const channelColumns = `
	id, channel_id, username, title, description, is_active, rating, added_at, updated_at`

// AddChannel registers a channel in the curated list. Adding a channel that
// is already registered returns the existing row and created=false.
func (d *DB) AddChannel(ctx context.Context, ch *Channel) (*Channel, bool, error) {
	if strings.TrimSpace(ch.ChannelID) == "" {
		return nil, false, errors.New("channel id is required")
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	title := ch.Title
	if title == "" {
		title = "Channel " + ch.ChannelID
	}
	now := d.now().UTC()

	res, err := d.db.ExecContext(ctx, `
	INSERT INTO channels (
		channel_id, username, title, description, is_active, rating, added_at, updated_at
	) VALUES (?, ?, ?, ?, 1, ?, ?, ?)
	ON CONFLICT(channel_id) DO NOTHING`,
		ch.ChannelID, nullString(ch.Username), title, nullString(ch.Description), ch.Rating, now, now,
	)
	if err != nil {
		return nil, false, storeErr("insert channel", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, storeErr("insert channel", err)
	}

	stored, err := getChannel(ctx, d.db, ch.ChannelID)
	if err != nil {
		return nil, false, storeErr("get channel", err)
	}

	return stored, n > 0, nil
}

// GetChannel retrieves a registered channel, nil if unknown
func (d *DB) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	ch, err := getChannel(ctx, d.db, channelID)
	if err != nil {
		return nil, storeErr("get channel", err)
	}
	return ch, nil
}

// ListChannels retrieves registered channels ordered by rating, best first
func (d *DB) ListChannels(ctx context.Context, activeOnly bool) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY rating DESC, id ASC"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list channels", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, storeErr("scan channel row", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list channels", err)
	}

	return channels, nil
}

// ListActiveChannels is the registry view used by the scheduler
func (d *DB) ListActiveChannels(ctx context.Context) ([]*Channel, error) {
	return d.ListChannels(ctx, true)
}

// SetChannelActive enables or disables crawling of a channel.
// It reports false when the channel is not registered.
func (d *DB) SetChannelActive(ctx context.Context, channelID string, active bool) (bool, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	res, err := d.db.ExecContext(ctx,
		`UPDATE channels SET is_active = ?, updated_at = ? WHERE channel_id = ?`,
		active, d.now().UTC(), channelID,
	)
	if err != nil {
		return false, storeErr("update channel", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("update channel", err)
	}
	return n > 0, nil
}

func getChannel(ctx context.Context, q rowQuerier, channelID string) (*Channel, error) {
	row := q.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE channel_id = ?`, channelID)

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ch, err
}

func scanChannel(row rowScanner) (*Channel, error) {
	ch := &Channel{}
	var username, description sql.NullString

	err := row.Scan(
		&ch.ID, &ch.ChannelID, &username, &ch.Title, &description,
		&ch.IsActive, &ch.Rating, &ch.AddedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ch.Username = username.String
	ch.Description = description.String
	ch.AddedAt = ch.AddedAt.UTC()
	ch.UpdatedAt = ch.UpdatedAt.UTC()

	return ch, nil
}
