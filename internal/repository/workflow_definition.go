package repository

import (
	"database/sql"
	"errors"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
)

// WorkflowDefinitionRepository provides read access to stored workflow graphs.
type WorkflowDefinitionRepository struct {
	db    *sql.DB
	clock core.Clock
}

const DEFINITION_COLUMNS = ` id, owner_id, name, active, definition, created, updated `

func NewWorkflowDefinitionRepository(db *sql.DB, clock core.Clock) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db, clock: clock}
}

// FindActiveByOwner returns the owner's active workflow definition, or nil
// when none is active.
func (r *WorkflowDefinitionRepository) FindActiveByOwner(ownerID string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + DEFINITION_COLUMNS + `
		FROM workflow_definitions
		WHERE owner_id = ` + placeholder(1) + ` AND active = ` + placeholder(2) + `
		ORDER BY updated DESC
		LIMIT 1
	`
	var def domain.WorkflowDefinition
	err := r.db.QueryRow(query, ownerID, true).Scan(
		&def.ID,
		&def.OwnerID,
		&def.Name,
		&def.Active,
		&def.Definition,
		&def.Created,
		&def.Updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// Save inserts or updates a definition depending on whether ID is set.
func (r *WorkflowDefinitionRepository) Save(def *domain.WorkflowDefinition) error {
	if def.ID == 0 {
		base := `
			INSERT INTO workflow_definitions (owner_id, name, active, definition, created, updated)
			VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + nowFunc(r.clock) + `, ` + nowFunc(r.clock) + `)`
		if supportsReturning() {
			query := base + " RETURNING id"
			return r.db.QueryRow(query, def.OwnerID, def.Name, def.Active, def.Definition).Scan(&def.ID)
		}
		res, err := r.db.Exec(base, def.OwnerID, def.Name, def.Active, def.Definition)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		def.ID = id
		return nil
	}

	query := `
		UPDATE workflow_definitions
		SET name = ` + placeholder(1) + `, active = ` + placeholder(2) + `, definition = ` + placeholder(3) + `, updated = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err := r.db.Exec(query, def.Name, def.Active, def.Definition, def.ID)
	return err
}
