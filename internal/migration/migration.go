package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	contactdomain "github.com/smallbiznis/clientflow/internal/contact/domain"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema. The booking slot
// partial unique index only exists here.
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
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.Tenant{},
		&contactdomain.Contact{},
		&tagdomain.Tag{},
		&tagdomain.EntityTag{},
		&bookingdomain.Booking{},
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&paymentdomain.InvoicePayment{},
		&paymentdomain.BookingPayment{},
		&paymentdomain.EventRecord{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&workflowdomain.Workflow{},
		&workflowdomain.WorkflowRun{},
		&workflowdomain.EmailTemplate{},
		&webhookdomain.Webhook{},
		&webhookdomain.Delivery{},
	}
}

// AutoMigrate creates the schema from the gorm models for dialects without
// embedded SQL.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
