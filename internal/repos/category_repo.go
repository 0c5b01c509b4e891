package repos

import (
	"context"
	"strings"

	"sonar/internal/domain"
	"sonar/internal/remote"
)

const CategoriesTable = "categorias"

type CategoryRepo struct{ rows remote.Rows }

func NewCategoryRepo(rows remote.Rows) *CategoryRepo { return &CategoryRepo{rows: rows} }

func (r *CategoryRepo) List(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	_, err := r.rows.Select(ctx, remote.Query{
		Table: CategoriesTable,
		Order: []remote.Order{{Column: "descripcion", Ascending: true}},
	}, &out)
	if err != nil {
		return nil, domain.E(domain.KindQuery, "list categories", err)
	}
	if out == nil {
		out = []domain.Category{}
	}
	return out, nil
}

// Create inserts an active category. tenantID 0 leaves it shared.
func (r *CategoryRepo) Create(ctx context.Context, description string, tenantID int64) (*domain.Category, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domain.Msg(domain.KindValidation, "create category", "description is required")
	}
	values := map[string]any{"descripcion": description, "estado": domain.StatusActive}
	if tenantID != 0 {
		values["empresa_id"] = tenantID
	}
	var c domain.Category
	if err := r.rows.Insert(ctx, CategoriesTable, values, &c); err != nil {
		return nil, domain.E(domain.KindPersistence, "create category", err)
	}
	return &c, nil
}
