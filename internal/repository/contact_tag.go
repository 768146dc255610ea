package repository

import (
	"database/sql"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
)

// ContactTagRepository backs ASSIGN_TAG node mutations.
type ContactTagRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewContactTagRepository(db *sql.DB, clock core.Clock) *ContactTagRepository {
	return &ContactTagRepository{db: db, clock: clock}
}

// AddTag is idempotent: re-applying an existing tag is a no-op.
func (r *ContactTagRepository) AddTag(phone string, tag string) error {
	del := `DELETE FROM contact_tags WHERE phone = ` + placeholder(1) + ` AND tag = ` + placeholder(2)
	if _, err := r.db.Exec(del, phone, tag); err != nil {
		return err
	}
	query := `
		INSERT INTO contact_tags (phone, tag, created)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + nowFunc(r.clock) + `)
	`
	_, err := r.db.Exec(query, phone, tag)
	return err
}

func (r *ContactTagRepository) RemoveTag(phone string, tag string) error {
	query := `DELETE FROM contact_tags WHERE phone = ` + placeholder(1) + ` AND tag = ` + placeholder(2)
	_, err := r.db.Exec(query, phone, tag)
	return err
}

func (r *ContactTagRepository) FindTags(phone string) ([]string, error) {
	query := `SELECT tag FROM contact_tags WHERE phone = ` + placeholder(1) + ` ORDER BY created ASC`
	rows, err := r.db.Query(query, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
