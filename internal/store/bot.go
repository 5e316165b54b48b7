package store

import (
	"database/sql"
	"time"
)

// CreateBot inserts a new bot record.
func (db *DB) CreateBot(b *Bot) error {
	now := time.Now().UnixMilli()
	if b.Status == "" {
		b.Status = BotInactive
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err := db.Exec(`
		INSERT INTO bots (id, owner_id, display_name, channel_address, ai_provider, ai_model, system_prompt, temperature, max_tokens, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.DisplayName, b.ChannelAddress, b.AIProvider, b.AIModel, b.SystemPrompt, b.Temperature, b.MaxTokens, b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

// GetBot returns a bot by id, or nil if it does not exist.
func (db *DB) GetBot(id string) (*Bot, error) {
	var b Bot
	err := db.QueryRow(`
		SELECT id, owner_id, display_name, channel_address, ai_provider, ai_model, system_prompt, temperature, max_tokens, status, created_at, updated_at
		FROM bots WHERE id = ?`, id).
		Scan(&b.ID, &b.OwnerID, &b.DisplayName, &b.ChannelAddress, &b.AIProvider, &b.AIModel, &b.SystemPrompt, &b.Temperature, &b.MaxTokens, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBots returns all bots for an owner, newest first.
func (db *DB) ListBots(ownerID string) ([]Bot, error) {
	rows, err := db.Query(`
		SELECT id, owner_id, display_name, channel_address, ai_provider, ai_model, system_prompt, temperature, max_tokens, status, created_at, updated_at
		FROM bots WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.DisplayName, &b.ChannelAddress, &b.AIProvider, &b.AIModel, &b.SystemPrompt, &b.Temperature, &b.MaxTokens, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// ListActiveBots returns bots whose last known status was not inactive,
// used to re-establish channel connections after a daemon restart.
func (db *DB) ListActiveBots() ([]Bot, error) {
	rows, err := db.Query(`
		SELECT id, owner_id, display_name, channel_address, ai_provider, ai_model, system_prompt, temperature, max_tokens, status, created_at, updated_at
		FROM bots WHERE status != ?`, BotInactive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.DisplayName, &b.ChannelAddress, &b.AIProvider, &b.AIModel, &b.SystemPrompt, &b.Temperature, &b.MaxTokens, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpdateBotStatus sets a bot's connection status.
func (db *DB) UpdateBotStatus(id string, status BotStatus) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE bots SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	return err
}

// UpdateBotConfig updates the AI configuration of a bot.
func (db *DB) UpdateBotConfig(b *Bot) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE bots SET display_name = ?, ai_provider = ?, ai_model = ?, system_prompt = ?, temperature = ?, max_tokens = ?, updated_at = ?
		WHERE id = ?`,
		b.DisplayName, b.AIProvider, b.AIModel, b.SystemPrompt, b.Temperature, b.MaxTokens, now, b.ID)
	return err
}

// DeleteBot removes a bot; conversations and messages cascade.
func (db *DB) DeleteBot(id string) error {
	_, err := db.Exec(`DELETE FROM bots WHERE id = ?`, id)
	return err
}
