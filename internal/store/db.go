package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm   *gorm.DB
	driver string
	mu     sync.Mutex
}

// Open connects to dsn. A postgres:// or postgresql:// URL selects Postgres;
// anything else is treated as a SQLite path.
func Open(dsn string, silent bool) (*Database, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	cfg := &gorm.Config{TranslateError: true}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	driver := "sqlite"
	var dialector gorm.Dialector
	if isPostgresURL(dsn) {
		driver = "postgres"
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "postgres" {
		if err := tunePool(db); err != nil {
			return nil, err
		}
	}
	if err := db.AutoMigrate(&CatalogPlant{}, &AdvisoryEvent{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if driver == "sqlite" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			logrus.WithError(err).Warn("enable WAL mode")
		}
		if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
			logrus.WithError(err).Warn("set synchronous pragma")
		}
	}
	logrus.WithField("driver", driver).Info("database ready")
	return &Database{gorm: db, driver: driver}, nil
}

func isPostgresURL(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func tunePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Driver reports which dialect is in use.
func (d *Database) Driver() string {
	return d.driver
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReplaceCatalog swaps the stored catalog with the provided slice.
func (d *Database) ReplaceCatalog(plants []CatalogPlant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CatalogPlant{}).Error; err != nil {
			return err
		}
		if len(plants) == 0 {
			return nil
		}
		// SQLite caps bound variables at 999.
		const batchSize = 100
		return tx.CreateInBatches(plants, batchSize).Error
	})
}

// UpsertCatalogPlant inserts or refreshes one plant keyed by its normalized name.
func (d *Database) UpsertCatalogPlant(plant *CatalogPlant) error {
	if plant == nil {
		return errors.New("plant is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "prefix", "length", "category", "points", "updated_at"}),
	}).Create(plant).Error
}

// CountCatalog returns the number of stored plants.
func (d *Database) CountCatalog() (int64, error) {
	var count int64
	if err := d.gorm.Model(&CatalogPlant{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindCatalogPlant returns the exact normalized match, if any.
func (d *Database) FindCatalogPlant(normalized string) (*CatalogPlant, error) {
	var plant CatalogPlant
	err := d.gorm.Where("normalized = ?", normalized).Take(&plant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

// FindCatalogCandidates returns plants filtered by optional prefixes and length bounds.
func (d *Database) FindCatalogCandidates(prefixes []string, minLen, maxLen, targetLen, limit int) ([]CatalogPlant, error) {
	query := d.gorm.Model(&CatalogPlant{})
	if minLen > 0 {
		query = query.Where("length >= ?", minLen)
	}
	if maxLen > 0 {
		query = query.Where("length <= ?", maxLen)
	}
	if len(prefixes) > 0 {
		query = query.Where("prefix IN ?", prefixes)
	}
	if targetLen > 0 {
		query = query.Order(clause.Expr{SQL: "ABS(length - ?)", Vars: []any{targetLen}})
	}
	query = query.Order("normalized ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CatalogPlant
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCatalog returns a page of plants ordered by name.
func (d *Database) ListCatalog(offset, limit int) ([]CatalogPlant, int64, error) {
	var total int64
	if err := d.gorm.Model(&CatalogPlant{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := d.gorm.Model(&CatalogPlant{}).Order("normalized ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	var rows []CatalogPlant
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
