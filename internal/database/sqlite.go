package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("already exists")
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection and initializes schema
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	wrapper := &DB{db}
	if err := wrapper.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return wrapper, nil
}

// initSchema creates the database tables if they don't exist.
// Timestamps are stored as unix nanoseconds so ORDER BY is chronological.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		status TEXT NOT NULL DEFAULT 'active',
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (team_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attachments (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		filename TEXT NOT NULL,
		media_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		storage_key TEXT NOT NULL,
		PRIMARY KEY (message_id, idx)
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		emoji TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	);

	CREATE TABLE IF NOT EXISTS message_mentions (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_team ON messages(team_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
	`

	_, err := db.Exec(schema)
	return err
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders builds "?,?,?" and the matching args for an IN clause
func placeholders(ids []uuid.UUID) (string, []interface{}) {
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id.String()
	}
	return strings.Join(marks, ","), args
}

// --- Users ---

// CreateUser inserts a new user
func (db *DB) CreateUser(user *models.User, passwordHash string) error {
	_, err := db.Exec(`
		INSERT INTO users (id, username, display_name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.DisplayName, user.Email, passwordHash,
		toNanos(user.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, extra ...interface{}) (*models.User, error) {
	user := &models.User{}
	var idStr string
	var displayName sql.NullString
	var createdAt int64

	dest := append([]interface{}{&idStr, &user.Username, &displayName, &user.Email, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	user.ID, _ = uuid.Parse(idStr)
	if displayName.Valid {
		user.DisplayName = displayName.String
	}
	user.CreatedAt = fromNanos(createdAt)
	return user, nil
}

// GetUserByID returns a user by ID
func (db *DB) GetUserByID(id uuid.UUID) (*models.User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, username, display_name, email, created_at
		FROM users WHERE id = ?`, id.String()))
}

// GetUserByEmail returns a user and their password hash
func (db *DB) GetUserByEmail(email string) (*models.User, string, error) {
	var passwordHash string
	user, err := scanUser(db.QueryRow(`
		SELECT id, username, display_name, email, created_at, password_hash
		FROM users WHERE email = ? COLLATE NOCASE`, email), &passwordHash)
	if err != nil {
		return nil, "", err
	}
	return user, passwordHash, nil
}

// GetUsersByIDs returns the users with the given IDs keyed by ID
func (db *DB) GetUsersByIDs(ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	users := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	marks, args := placeholders(ids)
	rows, err := db.Query(fmt.Sprintf(`
		SELECT id, username, display_name, email, created_at
		FROM users WHERE id IN (%s)`, marks), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

// --- Teams ---

// CreateTeam inserts a team and its initial members
func (db *DB) CreateTeam(team *models.Team) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO teams (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		team.ID.String(), team.Name, team.Status, toNanos(team.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}

	for _, m := range team.Members {
		if err := insertMember(tx, team.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMember(exec interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}, teamID uuid.UUID, m models.Member) error {
	_, err := exec.Exec(`
		INSERT INTO team_members (team_id, user_id, role, status, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = excluded.role, status = excluded.status`,
		teamID.String(), m.UserID.String(), m.Role, m.Status, toNanos(m.JoinedAt))
	return err
}

// AddTeamMember adds a member to a team or updates an existing membership
func (db *DB) AddTeamMember(teamID uuid.UUID, member models.Member) error {
	return insertMember(db, teamID, member)
}

// SetMemberStatus activates or deactivates a membership
func (db *DB) SetMemberStatus(teamID, userID uuid.UUID, status models.MemberStatus) error {
	res, err := db.Exec(`UPDATE team_members SET status = ? WHERE team_id = ? AND user_id = ?`,
		status, teamID.String(), userID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTeam(row rowScanner) (*models.Team, error) {
	team := &models.Team{Members: []models.Member{}}
	var idStr string
	var createdAt int64
	if err := row.Scan(&idStr, &team.Name, &team.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	team.ID, _ = uuid.Parse(idStr)
	team.CreatedAt = fromNanos(createdAt)
	return team, nil
}

// GetTeam returns a team with its full roster
func (db *DB) GetTeam(id uuid.UUID) (*models.Team, error) {
	team, err := scanTeam(db.QueryRow(`SELECT id, name, status, created_at FROM teams WHERE id = ?`, id.String()))
	if err != nil {
		return nil, err
	}
	team.Members, err = db.GetTeamMembers(id)
	if err != nil {
		return nil, err
	}
	return team, nil
}

// GetTeamByName returns a team by its unique name
func (db *DB) GetTeamByName(name string) (*models.Team, error) {
	team, err := scanTeam(db.QueryRow(`SELECT id, name, status, created_at FROM teams WHERE name = ?`, name))
	if err != nil {
		return nil, err
	}
	team.Members, err = db.GetTeamMembers(team.ID)
	if err != nil {
		return nil, err
	}
	return team, nil
}

// GetTeamMembers returns a team's roster in join order
func (db *DB) GetTeamMembers(teamID uuid.UUID) ([]models.Member, error) {
	rows, err := db.Query(`
		SELECT tm.user_id, COALESCE(NULLIF(u.display_name, ''), u.username), tm.role, tm.status, tm.joined_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = ?
		ORDER BY tm.joined_at, tm.rowid`, teamID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		var userIDStr string
		var joinedAt int64
		if err := rows.Scan(&userIDStr, &m.DisplayName, &m.Role, &m.Status, &joinedAt); err != nil {
			return nil, err
		}
		m.UserID, _ = uuid.Parse(userIDStr)
		m.JoinedAt = fromNanos(joinedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember returns a single membership
func (db *DB) GetMember(teamID, userID uuid.UUID) (models.Member, error) {
	var m models.Member
	var joinedAt int64
	err := db.QueryRow(`
		SELECT COALESCE(NULLIF(u.display_name, ''), u.username), tm.role, tm.status, tm.joined_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = ? AND tm.user_id = ?`, teamID.String(), userID.String()).
		Scan(&m.DisplayName, &m.Role, &m.Status, &joinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Member{}, ErrNotFound
		}
		return models.Member{}, err
	}
	m.UserID = userID
	m.JoinedAt = fromNanos(joinedAt)
	return m, nil
}

// GetUserTeams returns the teams the user is an active member of
func (db *DB) GetUserTeams(userID uuid.UUID) ([]*models.Team, error) {
	rows, err := db.Query(`
		SELECT t.id, t.name, t.status, t.created_at
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = ? AND tm.status = ?
		ORDER BY t.name`, userID.String(), models.MemberActive)
	if err != nil {
		return nil, err
	}

	var teams []*models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		teams = append(teams, team)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single connection pool: members are loaded after the cursor is closed
	for _, team := range teams {
		if team.Members, err = db.GetTeamMembers(team.ID); err != nil {
			return nil, err
		}
	}
	return teams, nil
}

// --- Messages ---

// StoredAttachment pairs an attachment with the key of its stored bytes
type StoredAttachment struct {
	models.Attachment
	StorageKey string
}

// CreateMessage inserts a message with its attachments and mentions.
// storageKeys[i] is the storage key for msg.Attachments[i].
func (db *DB) CreateMessage(msg *models.Message, storageKeys []string) error {
	if len(storageKeys) != len(msg.Attachments) {
		return fmt.Errorf("%d storage keys for %d attachments", len(storageKeys), len(msg.Attachments))
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO messages (id, team_id, sender_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.TeamID.String(), msg.SenderID.String(),
		msg.Kind, msg.Content, toNanos(msg.CreatedAt))
	if err != nil {
		return err
	}

	for i, a := range msg.Attachments {
		_, err = tx.Exec(`
			INSERT INTO attachments (message_id, idx, filename, media_type, size, storage_key)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID.String(), a.Index, a.Filename, a.MediaType, a.Size, storageKeys[i])
		if err != nil {
			return err
		}
	}

	for _, userID := range msg.Mentions {
		_, err = tx.Exec(`INSERT OR IGNORE INTO message_mentions (message_id, user_id) VALUES (?, ?)`,
			msg.ID.String(), userID.String())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const messageColumns = `id, team_id, sender_id, kind, content, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{Reactions: []models.Reaction{}}
	var idStr, teamIDStr, senderIDStr string
	var createdAt int64
	if err := row.Scan(&idStr, &teamIDStr, &senderIDStr, &msg.Kind, &msg.Content, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msg.ID, _ = uuid.Parse(idStr)
	msg.TeamID, _ = uuid.Parse(teamIDStr)
	msg.SenderID, _ = uuid.Parse(senderIDStr)
	msg.CreatedAt = fromNanos(createdAt)
	return msg, nil
}

// GetTeamMessages returns the latest limit messages of a team, oldest first,
// with senders, attachments, reactions and mentions loaded.
func (db *DB) GetTeamMessages(teamID uuid.UUID, limit int) ([]*models.Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, rowid AS rid FROM messages
			WHERE team_id = ?
			ORDER BY created_at DESC, rid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rid ASC`, teamID.String(), limit)
	if err != nil {
		return nil, err
	}

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.hydrate(messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage returns a single message of a team
func (db *DB) GetMessage(teamID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ? AND team_id = ?`,
		messageID.String(), teamID.String()))
	if err != nil {
		return nil, err
	}
	if err := db.hydrate([]*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// hydrate loads senders, attachments, reactions and mentions for messages
func (db *DB) hydrate(messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*models.Message, len(messages))
	ids := make([]uuid.UUID, 0, len(messages))
	senderIDs := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
		ids = append(ids, m.ID)
		senderIDs = append(senderIDs, m.SenderID)
	}
	marks, args := placeholders(ids)

	senders, err := db.GetUsersByIDs(senderIDs)
	if err != nil {
		return fmt.Errorf("load senders: %w", err)
	}
	for _, m := range messages {
		m.Sender = senders[m.SenderID]
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT message_id, idx, filename, media_type, size FROM attachments
		WHERE message_id IN (%s) ORDER BY message_id, idx`, marks), args...)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	for rows.Next() {
		var a models.Attachment
		var msgIDStr string
		if err := rows.Scan(&msgIDStr, &a.Index, &a.Filename, &a.MediaType, &a.Size); err != nil {
			rows.Close()
			return err
		}
		msgID, _ := uuid.Parse(msgIDStr)
		if m, ok := byID[msgID]; ok {
			a.URL = models.AttachmentPath(m.TeamID, m.ID, a.Index)
			m.Attachments = append(m.Attachments, a)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.Query(fmt.Sprintf(`
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id IN (%s) ORDER BY created_at, rowid`, marks), args...)
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			rows.Close()
			return err
		}
		if m, ok := byID[r.MessageID]; ok {
			m.Reactions = append(m.Reactions, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.Query(fmt.Sprintf(`
		SELECT message_id, user_id FROM message_mentions WHERE message_id IN (%s)`, marks), args...)
	if err != nil {
		return fmt.Errorf("load mentions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgIDStr, userIDStr string
		if err := rows.Scan(&msgIDStr, &userIDStr); err != nil {
			return err
		}
		msgID, _ := uuid.Parse(msgIDStr)
		userID, _ := uuid.Parse(userIDStr)
		if m, ok := byID[msgID]; ok {
			m.Mentions = append(m.Mentions, userID)
		}
	}
	return rows.Err()
}

// GetAttachment returns an attachment of a team message with its storage key
func (db *DB) GetAttachment(teamID, messageID uuid.UUID, index int) (*StoredAttachment, error) {
	a := &StoredAttachment{}
	err := db.QueryRow(`
		SELECT a.idx, a.filename, a.media_type, a.size, a.storage_key
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE a.message_id = ? AND m.team_id = ? AND a.idx = ?`,
		messageID.String(), teamID.String(), index).
		Scan(&a.Index, &a.Filename, &a.MediaType, &a.Size, &a.StorageKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.URL = models.AttachmentPath(teamID, messageID, index)
	return a, nil
}

// --- Reactions ---

func scanReaction(row rowScanner) (models.Reaction, error) {
	var r models.Reaction
	var msgIDStr, userIDStr string
	if err := row.Scan(&msgIDStr, &userIDStr, &r.Emoji); err != nil {
		return r, err
	}
	r.MessageID, _ = uuid.Parse(msgIDStr)
	r.UserID, _ = uuid.Parse(userIDStr)
	return r, nil
}

// ToggleReaction removes the user's emoji reaction if present and adds it
// otherwise, in one transaction. It returns the message's full reaction set
// afterwards and whether the reaction was added.
func (db *DB) ToggleReaction(messageID, userID uuid.UUID, emoji string) ([]models.Reaction, bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID.String(), userID.String(), emoji)
	if err != nil {
		return nil, false, err
	}
	removed, _ := res.RowsAffected()

	added := removed == 0
	if added {
		_, err = tx.Exec(`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
			messageID.String(), userID.String(), emoji, toNanos(time.Now()))
		if err != nil {
			return nil, false, err
		}
	}

	reactions, err := queryReactions(tx, messageID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return reactions, added, nil
}

// GetMessageReactions returns a message's reactions in the order they were made
func (db *DB) GetMessageReactions(messageID uuid.UUID) ([]models.Reaction, error) {
	return queryReactions(db, messageID)
}

func queryReactions(q interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}, messageID uuid.UUID) ([]models.Reaction, error) {
	rows, err := q.Query(`
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id = ? ORDER BY created_at, rowid`, messageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := []models.Reaction{}
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
