package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// coreTables is the schema the dispatch engine expects after all
// migrations have run; --list flags any that are missing.
var coreTables = []string{
	"campaign_jobs",
	"conversation_messages",
	"conversations",
	"email_templates",
	"job_recipients",
	"message_events",
	"sender_identities",
	"tenant_reply_domains",
	"warmup_daily_stats",
	"warmup_inbox_stats",
	"warmup_inboxes",
	"warmup_messages",
	"warmup_profiles",
	"warmup_threads",
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	if listOnly {
		listSchema(db)
		return
	}

	applyAll(db, dir)
}

func listSchema(db *sql.DB) {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var t string
		rows.Scan(&t)
		present[t] = true
		fmt.Println(" ", t)
	}
	fmt.Printf("Total: %d tables\n", len(present))

	var missing []string
	for _, t := range coreTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		fmt.Printf("Missing engine tables: %s\n", strings.Join(missing, ", "))
	}
}

func applyAll(db *sql.DB, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
		} else {
			tx.Commit()
			fmt.Println("OK")
			okCount++
		}
	}
	log.Printf("Migrations done: %d OK, %d errors", okCount, errCount)
}
