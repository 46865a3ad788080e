package seed

import (
	"fmt"
	"math/rand"
)

// The generator is seeded with a fixed value so every run (and every branch
// comparison in the scenarios) sees identical data.
const randSeed = 42

var firstNames = []string{
	"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace",
	"Henry", "Iris", "Jack", "Karen", "Leo", "Mia", "Noah", "Olivia",
	"Paul", "Quinn", "Ruby", "Sam", "Tara", "Uma", "Victor", "Wendy",
	"Xander", "Yara", "Zach", "Amber", "Blake", "Cora", "Derek",
	"Elena", "Felix", "Gina", "Hugo", "Isla", "Jake", "Kira", "Liam",
	"Maya", "Nate", "Opal", "Pete", "Rosa", "Sean", "Tina", "Uri",
	"Vera", "Wade", "Xena", "Yuri",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia",
	"Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez",
	"Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore",
	"Jackson", "Martin",
}

var productCatalog = map[string][]string{
	"Electronics": {"Laptop", "Headphones", "Phone Case", "USB Cable", "Webcam",
		"Keyboard", "Mouse", "Monitor", "Tablet", "Speaker"},
	"Clothing": {"T-Shirt", "Jeans", "Sneakers", "Jacket", "Hat",
		"Scarf", "Socks", "Belt", "Hoodie", "Shorts"},
	"Books": {"Python Guide", "SQL Mastery", "Data Engineering", "ML Handbook", "Cloud Atlas",
		"Clean Code", "System Design", "Algorithms", "DevOps Handbook", "AI Ethics"},
	"Home": {"Desk Lamp", "Coffee Mug", "Plant Pot", "Cushion", "Candle",
		"Picture Frame", "Clock", "Vase", "Blanket", "Coaster"},
	"Sports": {"Yoga Mat", "Water Bottle", "Resistance Band", "Jump Rope", "Dumbbell",
		"Tennis Ball", "Running Socks", "Gym Bag", "Towel", "Foam Roller"},
}

var categoryOrder = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}

var orderStatuses = []string{"pending", "confirmed", "shipped", "delivered"}

type Customer struct {
	Name  string
	Email string
}

type Product struct {
	Name     string
	Price    float64
	Category string
}

type Order struct {
	CustomerID int
	Status     string
}

type OrderItem struct {
	OrderID   int
	ProductID int
	Quantity  int
	UnitPrice float64
}

type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
	Items     []OrderItem
}

// Generate builds the full sample dataset: 100 customers, 50 products across
// 5 categories, 200 orders, and 1 to 5 items per order.
func Generate() Dataset {
	rng := rand.New(rand.NewSource(randSeed))

	var ds Dataset

	for i := 0; i < 100; i++ {
		first := firstNames[i%len(firstNames)]
		last := lastNames[i%len(lastNames)]
		ds.Customers = append(ds.Customers, Customer{
			Name:  first + " " + last,
			Email: fmt.Sprintf("%s.%s.%d@example.com", lower(first), lower(last), i),
		})
	}

	for _, category := range categoryOrder {
		for _, item := range productCatalog[category] {
			price := round2(5.99 + rng.Float64()*(299.99-5.99))
			ds.Products = append(ds.Products, Product{
				Name:     item,
				Price:    price,
				Category: category,
			})
		}
	}

	for i := 0; i < 200; i++ {
		ds.Orders = append(ds.Orders, Order{
			CustomerID: rng.Intn(100) + 1,
			Status:     orderStatuses[rng.Intn(len(orderStatuses))],
		})
	}

	for orderID := 1; orderID <= 200; orderID++ {
		numItems := rng.Intn(5) + 1
		for i := 0; i < numItems; i++ {
			productID := rng.Intn(50) + 1
			ds.Items = append(ds.Items, OrderItem{
				OrderID:   orderID,
				ProductID: productID,
				Quantity:  rng.Intn(3) + 1,
				UnitPrice: ds.Products[productID-1].Price,
			})
		}
	}

	return ds
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
