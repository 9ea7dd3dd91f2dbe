package database

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lib/pq"
)

// Base names combined with a platform suffix to form app names like
// "Paint for iOS".
var appBaseNames = []string{
	"Paint", "Countdown", "Calculator", "Notes", "Weather", "Music",
	"Video", "Photo", "Calendar", "Mail", "Chat", "Map", "News", "Shop",
	"Game", "Fitness", "Health", "Finance", "Travel", "Food", "Social",
	"Learning", "Planner", "Scanner", "Tracker", "Budget", "Recipe",
	"Radio",
}

var seedCountries = []string{
	"United States", "United Kingdom", "Germany", "France", "Italy",
	"Spain", "Canada", "Australia", "Japan", "South Korea", "Brazil",
	"India", "Mexico", "Netherlands", "Sweden",
}

// The portfolio cycles through 49 distinct apps: 21 on iOS, 28 on
// Android. A default 50-row seed therefore repeats exactly one name.
const (
	distinctApps = 49
	iosApps      = 21
)

// SeedOptions controls sample data generation.
type SeedOptions struct {
	Records int   // rows to insert, default 50
	Seed    int64 // rng seed, 0 picks a time-based one
}

// Seed fills the analytics table with generated sample rows so the
// assistant has data to query out of the box. App names and platforms
// follow a fixed cycle; dates, countries and metrics are drawn from
// the seeded generator. Returns the number of rows inserted.
func (db *DB) Seed(ctx context.Context, opts SeedOptions) (int, error) {
	if opts.Records <= 0 {
		opts.Records = 50
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.insertStatement())
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := 0; i < opts.Records; i++ {
		name, platform := seedApp(i)
		country := seedCountries[rng.Intn(len(seedCountries))]
		date := now.AddDate(0, 0, -rng.Intn(365)).Format("2006-01-02")
		installs := rng.Intn(100001)
		inAppRevenue := round2(rng.Float64() * 10000)
		adsRevenue := round2(rng.Float64() * 10000)
		uaCost := round2(rng.Float64() * 5000)

		if _, err := stmt.ExecContext(ctx, name, platform, date, country,
			installs, inAppRevenue, adsRevenue, uaCost); err != nil {
			return 0, fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return opts.Records, nil
}

// seedApp maps a row index onto the app cycle: the first 21 slots are
// iOS apps, the remaining 28 Android.
func seedApp(i int) (name, platform string) {
	j := i % distinctApps
	if j < iosApps {
		return fmt.Sprintf("%s for iOS", appBaseNames[j]), "iOS"
	}
	return fmt.Sprintf("%s for Android", appBaseNames[j-iosApps]), "Android"
}

// insertStatement builds the parameterized insert for the active
// driver: pgx wants $N placeholders, sqlite wants ?.
func (db *DB) insertStatement() string {
	cols := "(app_name, platform, date, country, installs, in_app_revenue, ads_revenue, ua_cost)"
	if db.driver == "postgres" {
		return fmt.Sprintf("INSERT INTO %s %s VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			pq.QuoteIdentifier(db.table), cols)
	}
	return fmt.Sprintf("INSERT INTO %s %s VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		pq.QuoteIdentifier(db.table), cols)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
