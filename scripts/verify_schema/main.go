package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"order-engine/pkg/db"
)

// verify_schema checks that an order database has the expected table,
// columns and indexes.
//
// Usage:
//
//	go run ./scripts/verify_schema -db ./data/orders.db
func main() {
	path := flag.String("db", "./data/orders.db", "database path")
	driver := flag.String("driver", db.DefaultDriver, "sqlite or sqlite3")
	flag.Parse()

	fmt.Printf("Verifying database at: %s\n", *path)

	database, err := db.Open(*driver, *path)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()

	ok := true
	fmt.Println("\n1. Verifying orders table...")
	ok = check(database.DB, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='orders'", "orders table") && ok

	fmt.Println("\n2. Verifying columns...")
	for _, col := range []string{"order_id", "status", "selected_dex", "executed_price", "tx_hash", "error", "attempts", "created_at", "updated_at"} {
		ok = check(database.DB, "SELECT COUNT(*) FROM pragma_table_info('orders') WHERE name = ?", "column "+col, col) && ok
	}

	fmt.Println("\n3. Verifying indexes...")
	for _, idx := range []string{"idx_orders_status", "idx_orders_created_at", "idx_orders_tx_hash"} {
		ok = check(database.DB, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name = ?", "index "+idx, idx) && ok
	}

	if !ok {
		os.Exit(1)
	}
}

func check(conn *sql.DB, query, label string, args ...any) bool {
	var n int
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if n > 0 {
		fmt.Printf("✓ %s exists\n", label)
		return true
	}
	fmt.Printf("❌ %s MISSING\n", label)
	return false
}
