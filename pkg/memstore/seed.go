package memstore

import "julianmorley.ca/con-plar/storefront/pkg/models"

// sampleCatalog is what a database-less dev server has to browse.
var sampleCatalog = []models.Product{
	{Name: "Linen Shirt", Description: "Relaxed fit, washed linen.", Price: 1499, RetailerName: "Loom & Co", IsVerified: true, AvailableSizes: []string{"S", "M", "L", "XL"}, ReturnPolicy: "30 days"},
	{Name: "Denim Jacket", Description: "Mid-weight selvedge denim.", Price: 3299, RetailerName: "Loom & Co", IsVerified: true, AvailableSizes: []string{"M", "L"}, ReturnPolicy: "30 days"},
	{Name: "Canvas Tote", Description: "Heavy cotton canvas, inside pocket.", Price: 499, RetailerName: "Fieldwork"},
	{Name: "Wool Beanie", Description: "Merino rib knit.", Price: 799, RetailerName: "Fieldwork", AvailableSizes: []string{"One size"}},
	{Name: "Leather Belt", Description: "Full-grain leather, brass buckle.", Price: 1899, RetailerName: "Hide House", IsVerified: true, AvailableSizes: []string{"32", "34", "36"}, ReturnPolicy: "14 days"},
}

// Seed adds the sample catalog and returns the stored products.
func (s *Store) Seed() []models.Product {
	out := make([]models.Product, 0, len(sampleCatalog))
	for _, p := range sampleCatalog {
		p.AvailableSizes = append([]string(nil), p.AvailableSizes...)
		out = append(out, s.AddProduct(p))
	}
	return out
}
