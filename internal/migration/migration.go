package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Apply brings the schema up to date. Postgres uses the versioned SQL files;
// other dialects fall back to gorm.AutoMigrate over the domain models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&restaurantdomain.Restaurant{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&menudomain.Category{},
		&menudomain.Item{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// MySQL has no partial indexes; there the pending check inside the
	// ledger transaction is the only guard.
	if conn.Dialector.Name() == "sqlite" {
		if err := conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_one_pending ON subscriptions (restaurant_id) WHERE status = 'pending'`,
		).Error; err != nil {
			return fmt.Errorf("create pending index: %w", err)
		}
	}
	return nil
}
