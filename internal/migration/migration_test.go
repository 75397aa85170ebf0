package migration

import (
	"reflect"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openMemoryDB(t)

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{"restaurants", "plans", "subscriptions", "menu_categories", "menu_items"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&subscriptiondomain.Subscription{}, "idx_subscriptions_restaurant_status"))
}

// MySQL rejects TEXT in primary keys and indexes without a prefix length.
func TestKeyColumnsHaveBoundedTypes(t *testing.T) {
	db := openMemoryDB(t)

	models := []any{
		&restaurantdomain.Restaurant{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&menudomain.Category{},
		&menudomain.Item{},
	}
	for _, model := range models {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(model))

		keyed := map[string]*schema.Field{}
		for _, field := range stmt.Schema.PrimaryFields {
			keyed[field.DBName] = field
		}
		for _, idx := range stmt.Schema.ParseIndexes() {
			for _, opt := range idx.Fields {
				keyed[opt.DBName] = opt.Field
			}
		}

		for name, field := range keyed {
			dataType := strings.ToLower(string(field.DataType))
			assert.NotEqual(t, "text", dataType, "%s.%s", stmt.Schema.Table, name)
			if field.IndirectFieldType.Kind() == reflect.String {
				assert.True(t, strings.HasPrefix(dataType, "varchar("), "%s.%s has type %q", stmt.Schema.Table, name, dataType)
			}
		}

		for _, field := range stmt.Schema.Fields {
			assert.NotEqual(t, "jsonb", strings.ToLower(string(field.DataType)), "%s.%s", stmt.Schema.Table, field.DBName)
		}
	}
}
