package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/migrations"
)

const usage = `usage: migrate [up | down [N] | version | force V]`

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	db, err := postgres.Open(dsn, 2, 1, 0)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	m, err := migrations.New(db)
	if err != nil {
		log.Fatal(err)
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps < 1 {
				log.Fatalf("down: invalid step count %q", os.Args[2])
			}
		}
		err = m.Steps(-steps)
	case "force":
		if len(os.Args) < 3 {
			log.Fatal(usage)
		}
		v, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			log.Fatalf("force: invalid version %q", os.Args[2])
		}
		err = m.Force(v)
	case "version":
	default:
		log.Fatal(usage)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No change")
		err = nil
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Println("Schema version: none")
	case err != nil:
		log.Fatalf("version: %v", err)
	default:
		fmt.Printf("Schema version: %d (dirty=%v)\n", version, dirty)
	}
	log.Println("Migrations complete")
}
