package store

import (
	"time"
)

// AppendMessage adds a message to a conversation's log. The log is
// append-only; only the delivery status of outbound rows is ever updated.
func (db *DB) AppendMessage(m *Message) error {
	now := time.Now().UnixMilli()
	if m.Timestamp == 0 {
		m.Timestamp = now
	}
	if m.MsgType == "" {
		m.MsgType = "text"
	}
	m.CreatedAt = now
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, content, direction, msg_type, status, tokens_used, latency_ms, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Content, m.Direction, m.MsgType, m.Status, m.TokensUsed, m.LatencyMs, m.Timestamp, m.CreatedAt)
	return err
}

// UpdateMessageStatus mutates the delivery status of an outbound message.
func (db *DB) UpdateMessageStatus(id, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// ListRecentMessages returns the most recent messages of a conversation in
// chronological order, ready for prompt assembly.
func (db *DB) ListRecentMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	// rowid breaks ties for messages landing within the same millisecond;
	// the log is append-only so insertion order is receipt order.
	rows, err := db.Query(`
		SELECT id, conversation_id, content, direction, msg_type, status, tokens_used, latency_ms, timestamp, created_at
		FROM (
			SELECT *, rowid AS rid FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, rid DESC
			LIMIT ?
		) ORDER BY timestamp ASC, rid ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Direction, &m.MsgType, &m.Status, &m.TokensUsed, &m.LatencyMs, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by id, or nil.
func (db *DB) GetMessage(id string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, content, direction, msg_type, status, tokens_used, latency_ms, timestamp, created_at
		FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var m Message
	if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Direction, &m.MsgType, &m.Status, &m.TokensUsed, &m.LatencyMs, &m.Timestamp, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
