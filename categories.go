package main

import (
	"regexp"
	"strings"
)

// Category is one column on the answer sheet.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// The fixed catalog every room starts with. Rooms may add their own on top.
var defaultCatalog = []Category{
	{ID: "nome", Name: "Nome"},
	{ID: "cor", Name: "Cor"},
	{ID: "fruta", Name: "Fruta"},
	{ID: "animal", Name: "Animal"},
	{ID: "carro", Name: "Carro"},
	{ID: "lugar", Name: "Lugar"},
	{ID: "objeto", Name: "Objeto"},
	{ID: "cep", Name: "CEP"},
	{ID: "profissao", Name: "Profissão"},
}

// A round needs at least two categories to be worth playing.
const minCategories = 2

var whitespaceRuns = regexp.MustCompile(`\s+`)

// categoryID turns a display name into a stable identifier.
func categoryID(name string) string {
	return whitespaceRuns.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
