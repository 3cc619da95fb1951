package store

import (
	"database/sql"
	"fmt"

	"github.com/rbrewer/listshare/internal/model"
)

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	var done int
	err := scanner.Scan(&it.ID, &it.ListID, &it.Name, &done, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Done = done != 0
	return &it, nil
}

const itemCols = `id, list_id, name, done, created_at, updated_at`

func (s *ItemStore) Create(listID int64, name string) (*model.Item, error) {
	result, err := s.db.Exec(
		`INSERT INTO items (list_id, name) VALUES (?, ?)`,
		listID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) GetByID(id int64) (*model.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// ListByList returns a list's items, newest first.
func (s *ItemStore) ListByList(listID int64) ([]model.Item, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM items WHERE list_id = ? ORDER BY created_at DESC, id DESC`,
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *ItemStore) Rename(id int64, name string) (*model.Item, error) {
	_, err := s.db.Exec(
		`UPDATE items SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename item: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) SetDone(id int64, done bool) (*model.Item, error) {
	var doneInt int
	if done {
		doneInt = 1
	}
	_, err := s.db.Exec(
		`UPDATE items SET done = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		doneInt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set item done: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
