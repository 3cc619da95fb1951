package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rbrewer/listshare/internal/model"
)

type ListStore struct {
	db *sql.DB
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db}
}

func scanList(scanner interface{ Scan(...any) error }) (*model.List, error) {
	var l model.List
	err := scanner.Scan(&l.ID, &l.PublicID, &l.Name, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const listCols = `id, public_id, name, owner_id, created_at, updated_at`

// Create inserts a new list owned by ownerID. The public ID is a fresh UUID
// and is the only identifier exposed in share links.
func (s *ListStore) Create(ownerID int64, name string) (*model.List, error) {
	publicID := uuid.NewString()
	result, err := s.db.Exec(
		`INSERT INTO lists (public_id, name, owner_id) VALUES (?, ?, ?)`,
		publicID, name, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ListStore) GetByID(id int64) (*model.List, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE id = ?`, id)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (s *ListStore) GetByPublicID(publicID string) (*model.List, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE public_id = ?`, publicID)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list by public id: %w", err)
	}
	return l, nil
}

// ListForUser returns the lists the user owns or is a member of, newest first.
func (s *ListStore) ListForUser(userID int64) ([]model.List, error) {
	rows, err := s.db.Query(
		`SELECT `+listCols+` FROM lists
		 WHERE owner_id = ?
		    OR id IN (SELECT list_id FROM list_members WHERE user_id = ?)
		 ORDER BY created_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list lists for user: %w", err)
	}
	defer rows.Close()

	var lists []model.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

func (s *ListStore) Rename(id int64, name string) (*model.List, error) {
	_, err := s.db.Exec(
		`UPDATE lists SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename list: %w", err)
	}
	return s.GetByID(id)
}

func (s *ListStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// AddMember adds userID as a member of the list. Adding an existing member is
// a no-op; the returned bool reports whether a row was actually inserted. The
// owner is never stored in list_members.
func (s *ListStore) AddMember(listID, userID int64) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO list_members (list_id, user_id) VALUES (?, ?)`,
		listID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("add list member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsOwnerOrMember reports whether the user has access to the list.
func (s *ListStore) IsOwnerOrMember(listID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM lists
		 WHERE id = ?
		   AND (owner_id = ?
		        OR EXISTS (SELECT 1 FROM list_members WHERE list_id = lists.id AND user_id = ?))`,
		listID, userID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check list access: %w", err)
	}
	return count > 0, nil
}

// ListMembers returns the member users of a list, not including the owner.
func (s *ListStore) ListMembers(listID int64) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT u.id, u.username, u.password_hash, u.created_at, u.updated_at
		 FROM users u
		 JOIN list_members m ON m.user_id = u.id
		 WHERE m.list_id = ?
		 ORDER BY m.created_at`,
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
