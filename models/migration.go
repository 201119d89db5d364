package models

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateTable creates each ledger table named by families plus the
// submission log.
func MigrateTable(db *gorm.DB, families *StatementFamilies) error {
	for _, table := range families.Tables() {
		if err := db.Table(table).AutoMigrate(&PeriodFact{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	return db.AutoMigrate(&FormSubmission{})
}
