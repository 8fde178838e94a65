package workeringest

import (
	"fmt"

	"gorm.io/gorm"
)

// TransactionInfo is the subset of transaction metadata C9/C10 need:
// which database a transaction belongs to and whether it is still
// open for contributions (spec.md §4.8 step 3).
type TransactionInfo struct {
	ID       uint32
	Database string
	State    string
}

const TransactionStateStarted = "STARTED"

// ColumnDef is one destination-table column, used to classify binary
// columns for C10 (spec.md §4.10).
type ColumnDef struct {
	Name string
	Type string
}

// MetadataStore answers the two catalog questions C9/C10 need before
// they can safely open a contribution: is this transaction open, and
// what does the destination table's schema look like. It is the Go
// analog of ServiceProvider's databaseServices()/config() pair in
// original_source.
type MetadataStore interface {
	Transaction(id uint32) (TransactionInfo, error)
	TableColumns(database, table string) ([]ColumnDef, error)
}

// TransactionRecord and TableColumnRecord back a gorm-persisted
// MetadataStore, mirroring the teacher's dummy/real database duality
// (sqlite in tests, MySQL/another server in production).
type TransactionRecord struct {
	ID       uint32 `gorm:"primaryKey"`
	Database string
	State    string
}

type TableColumnRecord struct {
	ID       uint32 `gorm:"primaryKey;autoIncrement"`
	Database string `gorm:"index:idx_table_columns_table"`
	Table    string `gorm:"index:idx_table_columns_table"`
	Ordinal  int
	Name     string
	Type     string
}

// GormMetadataStore implements MetadataStore against a gorm.DB.
type GormMetadataStore struct {
	db *gorm.DB
}

// NewGormMetadataStore wraps db and ensures its catalog tables exist.
func NewGormMetadataStore(db *gorm.DB) (*GormMetadataStore, error) {
	if err := db.AutoMigrate(&TransactionRecord{}, &TableColumnRecord{}); err != nil {
		return nil, fmt.Errorf("migrating ingest metadata store: %w", err)
	}
	return &GormMetadataStore{db: db}, nil
}

func (g *GormMetadataStore) Transaction(id uint32) (TransactionInfo, error) {
	var rec TransactionRecord
	if err := g.db.First(&rec, "id = ?", id).Error; err != nil {
		return TransactionInfo{}, fmt.Errorf("unknown transaction %d: %w", id, err)
	}
	return TransactionInfo{ID: rec.ID, Database: rec.Database, State: rec.State}, nil
}

func (g *GormMetadataStore) TableColumns(database, table string) ([]ColumnDef, error) {
	var recs []TableColumnRecord
	if err := g.db.Where("database = ? AND \"table\" = ?", database, table).
		Order("ordinal ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading schema for %s.%s: %w", database, table, err)
	}
	columns := make([]ColumnDef, 0, len(recs))
	for _, r := range recs {
		columns = append(columns, ColumnDef{Name: r.Name, Type: r.Type})
	}
	return columns, nil
}

// PutTransaction and PutTableColumns are test/bootstrap helpers for
// seeding the catalog without requiring a live Controller.
func (g *GormMetadataStore) PutTransaction(info TransactionInfo) error {
	return g.db.Save(&TransactionRecord{ID: info.ID, Database: info.Database, State: info.State}).Error
}

func (g *GormMetadataStore) PutTableColumns(database, table string, columns []ColumnDef) error {
	if err := g.db.Where("database = ? AND \"table\" = ?", database, table).Delete(&TableColumnRecord{}).Error; err != nil {
		return err
	}
	for i, c := range columns {
		rec := TableColumnRecord{Database: database, Table: table, Ordinal: i, Name: c.Name, Type: c.Type}
		if err := g.db.Create(&rec).Error; err != nil {
			return err
		}
	}
	return nil
}
