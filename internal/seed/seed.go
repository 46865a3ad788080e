package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tables, in dependency order.
var Tables = []string{"customers", "products", "orders", "order_items"}

// Conn is what seeding needs from a session.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func schemaSQL(schema string) string {
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

DROP TABLE IF EXISTS %[1]s.order_items CASCADE;
DROP TABLE IF EXISTS %[1]s.orders CASCADE;
DROP TABLE IF EXISTS %[1]s.products CASCADE;
DROP TABLE IF EXISTS %[1]s.customers CASCADE;

CREATE TABLE %[1]s.customers (
    id SERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    email VARCHAR(255) UNIQUE NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);

CREATE TABLE %[1]s.products (
    id SERIAL PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    price DECIMAL(10,2) NOT NULL,
    category VARCHAR(50)
);

CREATE TABLE %[1]s.orders (
    id SERIAL PRIMARY KEY,
    customer_id INT REFERENCES %[1]s.customers(id),
    total DECIMAL(10,2) NOT NULL,
    status VARCHAR(20) DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT NOW()
);

CREATE TABLE %[1]s.order_items (
    id SERIAL PRIMARY KEY,
    order_id INT REFERENCES %[1]s.orders(id),
    product_id INT REFERENCES %[1]s.products(id),
    quantity INT NOT NULL,
    unit_price DECIMAL(10,2) NOT NULL
);
`, schema)
}

// Apply creates the schema and loads the deterministic sample data.
// Idempotent: tables are dropped and recreated, so re-running setup always
// produces the same starting state.
func Apply(ctx context.Context, conn Conn, schema string) error {
	if _, err := conn.Exec(ctx, schemaSQL(schema)); err != nil {
		return fmt.Errorf("create schema %q: %w", schema, err)
	}

	ds := Generate()

	if err := insertCustomers(ctx, conn, schema, ds.Customers); err != nil {
		return err
	}
	if err := insertProducts(ctx, conn, schema, ds.Products); err != nil {
		return err
	}
	if err := insertOrders(ctx, conn, schema, ds.Orders); err != nil {
		return err
	}
	if err := insertOrderItems(ctx, conn, schema, ds.Items); err != nil {
		return err
	}

	// Order totals come from the items actually inserted.
	totalsSQL := fmt.Sprintf(`
UPDATE %[1]s.orders o SET total = sub.total
FROM (
    SELECT order_id, SUM(quantity * unit_price) AS total
    FROM %[1]s.order_items
    GROUP BY order_id
) sub
WHERE o.id = sub.order_id
`, schema)
	if _, err := conn.Exec(ctx, totalsSQL); err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}

	return nil
}

func insertCustomers(ctx context.Context, conn Conn, schema string, customers []Customer) error {
	args := make([]any, 0, len(customers)*2)
	for _, c := range customers {
		args = append(args, c.Name, c.Email)
	}
	sql := multiInsert(schema, "customers", []string{"name", "email"}, len(customers))
	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert customers: %w", err)
	}
	return nil
}

func insertProducts(ctx context.Context, conn Conn, schema string, products []Product) error {
	args := make([]any, 0, len(products)*3)
	for _, p := range products {
		args = append(args, p.Name, p.Price, p.Category)
	}
	sql := multiInsert(schema, "products", []string{"name", "price", "category"}, len(products))
	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert products: %w", err)
	}
	return nil
}

func insertOrders(ctx context.Context, conn Conn, schema string, orders []Order) error {
	args := make([]any, 0, len(orders)*3)
	for _, o := range orders {
		args = append(args, o.CustomerID, 0, o.Status)
	}
	sql := multiInsert(schema, "orders", []string{"customer_id", "total", "status"}, len(orders))
	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}
	return nil
}

func insertOrderItems(ctx context.Context, conn Conn, schema string, items []OrderItem) error {
	args := make([]any, 0, len(items)*4)
	for _, it := range items {
		args = append(args, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice)
	}
	sql := multiInsert(schema, "order_items", []string{"order_id", "product_id", "quantity", "unit_price"}, len(items))
	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func multiInsert(schema, table string, columns []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s (%s) VALUES ", schema, table, strings.Join(columns, ", "))
	arg := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteString(")")
	}
	return b.String()
}

// RowCounts returns the row count per table, in Tables order.
func RowCounts(ctx context.Context, conn Conn, schema string) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		sql := fmt.Sprintf("SELECT count(*) FROM %s.%s", schema, table)
		if err := conn.QueryRow(ctx, sql).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s.%s: %w", schema, table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
