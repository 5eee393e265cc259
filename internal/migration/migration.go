// Package migration holds the concrete steps that move an app's shared
// database to a dedicated hosted Postgres, and the plan that orders them.
//
// Each step talks to the control plane through a narrow interface declared
// here, so tests can drive the whole plan against in-memory fakes.
package migration

import (
	"context"
	"time"

	"github.com/heroku/heroku-pgmigrate/internal/heroku"
	"github.com/heroku/heroku-pgmigrate/internal/pgbackups"
	"github.com/heroku/heroku-pgmigrate/internal/saga"
)

// Config-var names and add-on plans the migration is pegged to.
const (
	// SourceVar is the binding of the database being migrated away from.
	SourceVar = "SHARED_DATABASE_URL"

	// TransferVar is the binding under which the transfer service
	// publishes its endpoint once the backup add-on is installed.
	TransferVar = "PGBACKUPS_URL"

	// DatabasePlan is the destination database add-on.
	DatabasePlan = "heroku-postgresql:dev"

	// BackupPlan is the add-on providing the data-transfer capability.
	BackupPlan = "pgbackups:plus"
)

// Step identities. These key the forward-data registry, so consumers name
// the producer they read from explicitly.
const (
	StepCheckSource   saga.StepID = "check-source"
	StepBackupService saga.StepID = "backup-service"
	StepProvision     saga.StepID = "provision-database"
	StepMaintenance   saga.StepID = "maintenance"
	StepScaleZero     saga.StepID = "scale-zero"
	StepTransfer      saga.StepID = "transfer"
	StepRebind        saga.StepID = "rebind-config"
)

// MaintenanceAPI toggles maintenance mode.
type MaintenanceAPI interface {
	SetMaintenance(ctx context.Context, app string, on bool) error
}

// FormationAPI reads and writes process-type instance counts.
type FormationAPI interface {
	Formation(ctx context.Context, app string) (map[string]int, error)
	Scale(ctx context.Context, app, process string, quantity int) error
}

// AddonAPI provisions add-ons.
type AddonAPI interface {
	ProvisionAddon(ctx context.Context, app, plan string) (heroku.AddonProvision, error)
}

// ConfigAPI reads and writes config vars.
type ConfigAPI interface {
	ConfigVars(ctx context.Context, app string) (map[string]string, error)
	SetConfigVars(ctx context.Context, app string, vars map[string]string) error
}

// TransferAPI drives the transfer service reached at the endpoint the
// backup add-on published.
type TransferAPI interface {
	CreateTransfer(ctx context.Context, fromURL, fromName, toURL, toName string) (pgbackups.Transfer, error)
	GetTransfer(ctx context.Context, id int) (pgbackups.Transfer, error)
}

// ProvisionPayload is the forward payload the provisioning step publishes
// under StepProvision: the name the new database was attached as, plus the
// full config snapshot taken right after provisioning.
type ProvisionPayload struct {
	AttachedVar string
	Config      map[string]string
}

// Clients bundles the control-plane surfaces the plan needs. NewTransfer is
// a factory because the transfer endpoint is only discovered mid-run, from
// the provisioning step's config snapshot.
type Clients struct {
	Maintenance MaintenanceAPI
	Formation   FormationAPI
	Addons      AddonAPI
	Config      ConfigAPI
	NewTransfer func(endpoint string) TransferAPI
}

// Options tune the long-running parts of the plan.
type Options struct {
	// PollInterval is how often the transfer is re-fetched while waiting
	// for it to finish.
	PollInterval time.Duration

	// Progress, when set, receives transfer-log lines as the copy runs.
	Progress func(line string)
}

// Plan returns the migration steps in dependency order. Steps that read
// forward data are enqueued strictly after the step that publishes it; the
// executor preserves this order.
func Plan(c Clients, app string, opts Options) []saga.Step {
	return []saga.Step{
		NewCheckSourceStep(c.Config, app),
		NewBackupServiceStep(c.Addons, app),
		NewProvisionStep(c.Addons, c.Config, app),
		NewMaintenanceStep(c.Maintenance, app),
		NewScaleZeroStep(c.Formation, app),
		NewTransferStep(c.NewTransfer, opts.PollInterval, opts.Progress),
		NewRebindStep(c.Config, app),
	}
}
