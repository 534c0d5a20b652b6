package metadata

import (
	"github.com/go-openapi/inflect"
)

// GraphQL field names derived from an entity name. "Book" exposes the
// collection "books", the single-row lookup "book_by_pk", and the
// mutations "createBook", "updateBook", "deleteBook".

// CollectionName returns the GraphQL collection field for an entity.
func CollectionName(entity string) string {
	return inflect.CamelizeDownFirst(inflect.Pluralize(entity))
}

// ByKeyName returns the GraphQL single-row field for an entity.
func ByKeyName(entity string) string {
	return inflect.CamelizeDownFirst(entity) + "_by_pk"
}

// CreateName returns the GraphQL create-mutation field for an entity.
func CreateName(entity string) string {
	return "create" + inflect.Camelize(entity)
}

// UpdateName returns the GraphQL update-mutation field for an entity.
func UpdateName(entity string) string {
	return "update" + inflect.Camelize(entity)
}

// DeleteName returns the GraphQL delete-mutation field for an entity.
func DeleteName(entity string) string {
	return "delete" + inflect.Camelize(entity)
}

// ExecuteName returns the GraphQL field for a stored-procedure entity.
func ExecuteName(entity string) string {
	return "execute" + inflect.Camelize(entity)
}

