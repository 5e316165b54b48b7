package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateConversation resolves the conversation for (botID, address),
// creating it lazily on first contact. Safe under concurrent calls: the
// UNIQUE(bot_id, counterpart_address) constraint turns a racing insert into
// a no-op and the subsequent select returns the winner's row.
func (db *DB) GetOrCreateConversation(botID, address, name string) (*Conversation, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, bot_id, counterpart_address, counterpart_name, is_active, assigned_to_agent, last_message_at, created_at)
		VALUES (?, ?, ?, ?, 1, 0, ?, ?)
		ON CONFLICT(bot_id, counterpart_address) DO UPDATE SET
			counterpart_name = CASE WHEN excluded.counterpart_name != '' THEN excluded.counterpart_name ELSE counterpart_name END`,
		uuid.NewString(), botID, address, name, now, now)
	if err != nil {
		return nil, err
	}
	return db.getConversationByCounterpart(botID, address)
}

func (db *DB) getConversationByCounterpart(botID, address string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, bot_id, counterpart_address, counterpart_name, is_active, assigned_to_agent, last_message_at, created_at
		FROM conversations WHERE bot_id = ? AND counterpart_address = ?`, botID, address).
		Scan(&c.ID, &c.BotID, &c.CounterpartAddress, &c.CounterpartName, &c.IsActive, &c.AssignedToAgent, &c.LastMessageAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, bot_id, counterpart_address, counterpart_name, is_active, assigned_to_agent, last_message_at, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.BotID, &c.CounterpartAddress, &c.CounterpartName, &c.IsActive, &c.AssignedToAgent, &c.LastMessageAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns a bot's conversations, most recent activity first.
func (db *DB) ListConversations(botID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, bot_id, counterpart_address, counterpart_name, is_active, assigned_to_agent, last_message_at, created_at
		FROM conversations WHERE bot_id = ? ORDER BY last_message_at DESC LIMIT ?`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.BotID, &c.CounterpartAddress, &c.CounterpartName, &c.IsActive, &c.AssignedToAgent, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetConversationAssigned flags a conversation as taken over by a human agent.
// While set, the auto-responder stays silent for that thread.
func (db *DB) SetConversationAssigned(id string, assigned bool) error {
	_, err := db.Exec(`UPDATE conversations SET assigned_to_agent = ? WHERE id = ?`, assigned, id)
	return err
}

// UpdateConversationTimestamp bumps last_message_at.
func (db *DB) UpdateConversationTimestamp(id string, ts int64) error {
	_, err := db.Exec(`UPDATE conversations SET last_message_at = ? WHERE id = ?`, ts, id)
	return err
}
