package testutil

import "github.com/TheMichaelB/booktu/internal/models"

// Books returns the default book catalog.
func Books() []models.Book {
	return []models.Book{
		{
			ID:          "book-1",
			Identifier:  "9788535910663",
			Title:       "Dom Casmurro",
			Author:      "Machado de Assis",
			Price:       39.9,
			ReleaseYear: 1899,
			Categories:  []models.Category{{ID: "cat-1", Name: "Romance"}},
		},
		{
			ID:          "book-2",
			Identifier:  "9788508133112",
			Title:       "O Cortiço",
			Author:      "Aluísio Azevedo",
			Price:       29.9,
			ReleaseYear: 1890,
			Categories:  []models.Category{{ID: "cat-1", Name: "Romance"}},
		},
		{
			ID:          "book-3",
			Identifier:  "9788544001820",
			Title:       "Memórias Póstumas de Brás Cubas",
			Author:      "Machado de Assis",
			Price:       34.5,
			ReleaseYear: 1881,
			Categories:  []models.Category{{ID: "cat-2", Name: "Clássico"}},
		},
	}
}

// Establishments returns the default establishment list.
func Establishments() []models.Establishment {
	return []models.Establishment{
		{ID: "store-1", Name: "Livraria Centro", City: "São Paulo", State: "SP"},
		{ID: "store-2", Name: "Sebo da Praça", City: "Campinas", State: "SP"},
		{ID: "store-3", Name: "Livraria do Porto", City: "Santos", State: "SP"},
	}
}
