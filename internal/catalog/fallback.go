package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xdignya776/shoptrae/internal/domain"
)

//go:embed fallback_catalog.yaml
var fallbackYAML []byte

type fallbackFile struct {
	Products []struct {
		ID          string `yaml:"id"`
		Title       string `yaml:"title"`
		Price       string `yaml:"price"`
		Category    string `yaml:"category"`
		Image       string `yaml:"image"`
		Description string `yaml:"description"`
	} `yaml:"products"`
	Categories []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Slug string `yaml:"slug"`
	} `yaml:"categories"`
}

// Fallback returns fresh copies of the built-in sample products and categories.
func Fallback() ([]domain.Product, []domain.Category, error) {
	var file fallbackFile
	if err := yaml.Unmarshal(fallbackYAML, &file); err != nil {
		return nil, nil, fmt.Errorf("catalog: parse fallback catalog: %w", err)
	}

	products := make([]domain.Product, 0, len(file.Products))
	for _, p := range file.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: fallback product %s price %q: %w", p.ID, p.Price, err)
		}
		products = append(products, domain.Product{
			ID:          p.ID,
			Title:       p.Title,
			Price:       price,
			Image:       p.Image,
			Category:    p.Category,
			Description: strings.TrimSpace(p.Description),
			Slug:        slugify(p.Title),
			StockStatus: domain.StockInStock,
		})
	}

	categories := make([]domain.Category, 0, len(file.Categories))
	for _, c := range file.Categories {
		categories = append(categories, domain.Category{ID: c.ID, Name: c.Name, Slug: c.Slug})
	}
	return products, categories, nil
}

func slugify(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), "-")
}
