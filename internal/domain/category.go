package domain

// Category mirrors a row of the categorias table.
type Category struct {
	ID          int64  `db:"id" json:"id"`
	Description string `db:"descripcion" json:"descripcion"`
	TenantID    *int64 `db:"empresa_id" json:"empresa_id"`
	Status      int    `db:"estado" json:"estado"`
}
