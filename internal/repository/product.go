package repository

import (
	"database/sql"
	"errors"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
)

// ProductRepository backs OFFER node selection.
type ProductRepository struct {
	db    *sql.DB
	clock core.Clock
}

const PRODUCT_COLUMNS = ` id, owner_id, name, description, category, price, active `

func NewProductRepository(db *sql.DB, clock core.Clock) *ProductRepository {
	return &ProductRepository{db: db, clock: clock}
}

func (r *ProductRepository) FindByID(id string) (*domain.Product, error) {
	query := `
		SELECT ` + PRODUCT_COLUMNS + `
		FROM products WHERE id = ` + placeholder(1) + ` AND active = ` + placeholder(2) + `
	`
	var p domain.Product
	err := r.db.QueryRow(query, id, true).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) FindByCategory(ownerID string, category string) (*domain.Product, error) {
	query := `
		SELECT ` + PRODUCT_COLUMNS + `
		FROM products
		WHERE owner_id = ` + placeholder(1) + ` AND category = ` + placeholder(2) + ` AND active = ` + placeholder(3) + `
		ORDER BY id ASC
		LIMIT 1
	`
	var p domain.Product
	err := r.db.QueryRow(query, ownerID, category, true).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindAllActive returns the owner's catalog for predicate matching in memory.
func (r *ProductRepository) FindAllActive(ownerID string) ([]domain.Product, error) {
	query := `
		SELECT ` + PRODUCT_COLUMNS + `
		FROM products
		WHERE owner_id = ` + placeholder(1) + ` AND active = ` + placeholder(2) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, ownerID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}
