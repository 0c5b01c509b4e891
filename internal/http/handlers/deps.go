package handlers

import (
	"sonar/internal/services"
)

type Deps struct {
	AuthHandler     *AuthHandler
	CategoryHandler *CategoryHandler
	ProductHandler  *ProductHandler
}

func NewDeps(auth *services.AuthService, catalog *services.CatalogService) *Deps {
	return &Deps{
		AuthHandler:     &AuthHandler{Auth: auth},
		CategoryHandler: &CategoryHandler{Catalog: catalog},
		ProductHandler:  &ProductHandler{Catalog: catalog},
	}
}
