package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SaleRow is one order line of the demo sales table.
type SaleRow struct {
	OrderID    int64     `parquet:"order_id"`
	CustomerID string    `parquet:"customer_id"`
	Product    string    `parquet:"product"`
	Category   string    `parquet:"category"`
	Quantity   int32     `parquet:"quantity"`
	UnitPrice  float64   `parquet:"unit_price"`
	Revenue    float64   `parquet:"revenue"`
	Country    string    `parquet:"country"`
	Channel    string    `parquet:"channel"`
	OrderedAt  time.Time `parquet:"ordered_at"`
}

// ColumnDescriptions are registered with the metadata index after connecting.
var ColumnDescriptions = map[string]string{
	"order_id":    "Unique order line number",
	"customer_id": "Customer who placed the order",
	"product":     "Product name",
	"category":    "Product category such as electronics or books",
	"quantity":    "Number of units ordered",
	"unit_price":  "Price of one unit in USD",
	"revenue":     "Total order line revenue in USD",
	"country":     "Two letter country code of the customer",
	"channel":     "Sales channel: web, mobile or store",
	"ordered_at":  "Timestamp the order was placed",
}

type product struct {
	name     string
	category string
	price    float64
}

var catalogue = []product{
	{name: "Laptop", category: "electronics", price: 1199},
	{name: "Headphones", category: "electronics", price: 149},
	{name: "Monitor", category: "electronics", price: 329},
	{name: "Desk Chair", category: "furniture", price: 249},
	{name: "Standing Desk", category: "furniture", price: 549},
	{name: "Go in Practice", category: "books", price: 39},
	{name: "SQL Cookbook", category: "books", price: 45},
	{name: "Coffee Beans", category: "grocery", price: 18},
}

type Generator struct {
	rnd                 *rand.Rand
	customerCardinality int
	sequence            int64
	now                 func() time.Time
}

func NewGenerator(seed int64, customerCardinality int) *Generator {
	return &Generator{
		rnd:                 rand.New(rand.NewSource(seed)),
		customerCardinality: customerCardinality,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// NextRow returns an order placed within the 90 days before now.
func (g *Generator) NextRow() SaleRow {
	g.sequence++
	item := catalogue[g.rnd.Intn(len(catalogue))]
	quantity := int32(g.pickQuantity())
	orderedAt := g.now().Add(-time.Duration(g.rnd.Int63n(int64(90 * 24 * time.Hour)))).Truncate(time.Second)

	return SaleRow{
		OrderID:    g.sequence,
		CustomerID: fmt.Sprintf("cust-%04d", g.rnd.Intn(g.customerCardinality)+1),
		Product:    item.name,
		Category:   item.category,
		Quantity:   quantity,
		UnitPrice:  item.price,
		Revenue:    round2(item.price * float64(quantity)),
		Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		Channel:    pickOne(g.rnd, []string{"web", "mobile", "store"}),
		OrderedAt:  orderedAt,
	}
}

func (g *Generator) Rows(n int) []SaleRow {
	rows := make([]SaleRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, g.NextRow())
	}
	return rows
}

func (g *Generator) pickQuantity() int {
	p := g.rnd.Intn(100)
	switch {
	case p < 70:
		return 1
	case p < 90:
		return 2
	default:
		return 3 + g.rnd.Intn(5)
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
