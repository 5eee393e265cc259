package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/heroku/heroku-pgmigrate/internal/heroku"
	"github.com/heroku/heroku-pgmigrate/internal/pgbackups"
	"github.com/heroku/heroku-pgmigrate/internal/saga"
)

// --- CheckSourceStep ---

// CheckSourceStep is the pre-flight check: the source binding must exist or
// there is nothing to migrate. It mutates nothing.
type CheckSourceStep struct {
	config ConfigAPI
	app    string
}

func NewCheckSourceStep(config ConfigAPI, app string) *CheckSourceStep {
	return &CheckSourceStep{config: config, app: app}
}

func (s *CheckSourceStep) ID() saga.StepID { return StepCheckSource }

func (s *CheckSourceStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	vars, err := s.config.ConfigVars(ctx, s.app)
	if err != nil {
		return saga.Outcome{}, fmt.Errorf("checking source binding: %w", err)
	}
	if _, ok := vars[SourceVar]; !ok {
		return saga.Outcome{}, saga.Abortf("%s has no %s; there is nothing to migrate", s.app, SourceVar)
	}
	return saga.Outcome{}, nil
}

// --- BackupServiceStep ---

// BackupServiceStep makes sure the transfer capability exists on the app.
// An already-installed backup add-on is success, not a conflict.
type BackupServiceStep struct {
	addons AddonAPI
	app    string
}

func NewBackupServiceStep(addons AddonAPI, app string) *BackupServiceStep {
	return &BackupServiceStep{addons: addons, app: app}
}

func (s *BackupServiceStep) ID() saga.StepID { return StepBackupService }

func (s *BackupServiceStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	_, err := s.addons.ProvisionAddon(ctx, s.app, BackupPlan)
	if err != nil && !errors.Is(err, heroku.ErrAddonExists) {
		return saga.Outcome{}, fmt.Errorf("ensuring backup service: %w", err)
	}
	return saga.Outcome{}, nil
}

// --- ProvisionStep ---

// ProvisionStep provisions the destination database and publishes the
// forward payload the transfer and rebind steps consume: the config-var
// name the new database was attached as, plus a snapshot of all config
// vars taken right after provisioning.
//
// It re-confirms the source binding before snapshotting — the pre-flight
// check ran earlier and the binding could have vanished in between.
type ProvisionStep struct {
	addons AddonAPI
	config ConfigAPI
	app    string
}

func NewProvisionStep(addons AddonAPI, config ConfigAPI, app string) *ProvisionStep {
	return &ProvisionStep{addons: addons, config: config, app: app}
}

func (s *ProvisionStep) ID() saga.StepID { return StepProvision }

func (s *ProvisionStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	prov, err := s.addons.ProvisionAddon(ctx, s.app, DatabasePlan)
	if err != nil {
		return saga.Outcome{}, fmt.Errorf("provisioning %s: %w", DatabasePlan, err)
	}

	attached, ok := heroku.AttachmentVar(prov.Message)
	if !ok {
		return saga.Outcome{}, fmt.Errorf("provision response did not name an attachment: %q", prov.Message)
	}

	vars, err := s.config.ConfigVars(ctx, s.app)
	if err != nil {
		return saga.Outcome{}, fmt.Errorf("snapshotting config after provision: %w", err)
	}
	if _, ok := vars[SourceVar]; !ok {
		return saga.Outcome{}, saga.Abortf("%s disappeared while provisioning %s; aborting", SourceVar, DatabasePlan)
	}
	if _, ok := vars[attached]; !ok {
		return saga.Outcome{}, fmt.Errorf("provisioned database %s is not in config", attached)
	}

	return saga.Outcome{
		Payload: ProvisionPayload{AttachedVar: attached, Config: vars},
	}, nil
}

// --- MaintenanceStep ---

// MaintenanceStep turns maintenance mode on. It registers itself for
// compensation as soon as the toggle has been attempted, success or not:
// the cost of disabling maintenance that never got enabled is nil, the
// cost of leaving an app dark is not.
type MaintenanceStep struct {
	api MaintenanceAPI
	app string

	// attempted flips before the remote call; Rollback no-ops until then.
	attempted bool
}

func NewMaintenanceStep(api MaintenanceAPI, app string) *MaintenanceStep {
	return &MaintenanceStep{api: api, app: app}
}

func (s *MaintenanceStep) ID() saga.StepID { return StepMaintenance }

func (s *MaintenanceStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	s.attempted = true
	if err := s.api.SetMaintenance(ctx, s.app, true); err != nil {
		return saga.Outcome{}, saga.NeedsCompensation(s, fmt.Errorf("enabling maintenance: %w", err))
	}
	return saga.Outcome{Compensate: []saga.Step{s}}, nil
}

func (s *MaintenanceStep) Rollback(ctx context.Context) error {
	if !s.attempted {
		return nil
	}
	return s.api.SetMaintenance(ctx, s.app, false)
}

// --- ScaleZeroStep ---

// ScaleZeroStep records the current formation and scales every process
// type to zero. Its rollback restores the recorded counts; until Perform
// has captured them the rollback is a no-op.
type ScaleZeroStep struct {
	api FormationAPI
	app string

	// prev is nil until Perform has read the formation.
	prev map[string]int
}

func NewScaleZeroStep(api FormationAPI, app string) *ScaleZeroStep {
	return &ScaleZeroStep{api: api, app: app}
}

func (s *ScaleZeroStep) ID() saga.StepID { return StepScaleZero }

func (s *ScaleZeroStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	counts, err := s.api.Formation(ctx, s.app)
	if err != nil {
		return saga.Outcome{}, fmt.Errorf("reading formation: %w", err)
	}
	s.prev = counts

	for _, proc := range sortedKeys(counts) {
		if err := s.api.Scale(ctx, s.app, proc, 0); err != nil {
			return saga.Outcome{}, saga.NeedsCompensation(s, fmt.Errorf("scaling %s to zero: %w", proc, err))
		}
	}
	return saga.Outcome{Compensate: []saga.Step{s}}, nil
}

func (s *ScaleZeroStep) Rollback(ctx context.Context) error {
	if s.prev == nil {
		return nil
	}
	var errs []error
	for _, proc := range sortedKeys(s.prev) {
		if err := s.api.Scale(ctx, s.app, proc, s.prev[proc]); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s to %d: %w", proc, s.prev[proc], err))
		}
	}
	return errors.Join(errs...)
}

// --- TransferStep ---

// TransferStep copies the data. It reads everything it needs from the
// provisioning step's forward payload: the source URL, the destination URL
// via the attached var, and the transfer-service endpoint.
//
// An errored transfer aborts the run cleanly. There is no compensation:
// whatever landed in the destination database is left for the operator to
// inspect.
type TransferStep struct {
	newTransfer func(endpoint string) TransferAPI
	interval    time.Duration
	progress    func(line string)
}

func NewTransferStep(newTransfer func(endpoint string) TransferAPI, interval time.Duration, progress func(line string)) *TransferStep {
	return &TransferStep{newTransfer: newTransfer, interval: interval, progress: progress}
}

func (s *TransferStep) ID() saga.StepID { return StepTransfer }

func (s *TransferStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	payload, ok := fwd.Lookup(StepProvision)
	if !ok {
		return saga.Outcome{}, fmt.Errorf("no forward data from %s; was provisioning enqueued first?", StepProvision)
	}
	pv, ok := payload.(ProvisionPayload)
	if !ok {
		return saga.Outcome{}, fmt.Errorf("unexpected forward payload %T from %s", payload, StepProvision)
	}

	fromURL := pv.Config[SourceVar]
	toURL := pv.Config[pv.AttachedVar]
	endpoint := pv.Config[TransferVar]
	if endpoint == "" {
		return saga.Outcome{}, fmt.Errorf("%s is not bound; cannot reach the transfer service", TransferVar)
	}

	api := s.newTransfer(endpoint)
	t, err := api.CreateTransfer(ctx, fromURL, SourceVar, toURL, pv.AttachedVar)
	if err != nil {
		return saga.Outcome{}, err
	}

	poller := &pgbackups.Poller{API: api, Interval: s.interval, Progress: s.progress}
	t, err = poller.Wait(ctx, t.ID)
	if err != nil {
		return saga.Outcome{}, err
	}
	if t.Errored() {
		return saga.Outcome{}, saga.Abortf("transfer failed: %s", t.LastLogLine())
	}
	return saga.Outcome{}, nil
}

// --- RebindStep ---

// RebindStep points every config var that held the old database URL at the
// new one. On success it registers no compensation — the rebind is the
// point of the whole migration. If it fails partway, the vars already
// rewritten are rolled back to the old URL.
type RebindStep struct {
	config ConfigAPI
	app    string

	// Captured during Perform, read by Rollback.
	oldURL  string
	rebound []string
}

func NewRebindStep(config ConfigAPI, app string) *RebindStep {
	return &RebindStep{config: config, app: app}
}

func (s *RebindStep) ID() saga.StepID { return StepRebind }

func (s *RebindStep) Perform(ctx context.Context, fwd *saga.Forward) (saga.Outcome, error) {
	payload, ok := fwd.Lookup(StepProvision)
	if !ok {
		return saga.Outcome{}, fmt.Errorf("no forward data from %s; was provisioning enqueued first?", StepProvision)
	}
	pv, ok := payload.(ProvisionPayload)
	if !ok {
		return saga.Outcome{}, fmt.Errorf("unexpected forward payload %T from %s", payload, StepProvision)
	}

	s.oldURL = pv.Config[SourceVar]
	newURL := pv.Config[pv.AttachedVar]

	var names []string
	for name, value := range pv.Config {
		if value == s.oldURL {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// One var per request so a partial failure leaves a precise record of
	// what was actually rewritten.
	for _, name := range names {
		if err := s.config.SetConfigVars(ctx, s.app, map[string]string{name: newURL}); err != nil {
			return saga.Outcome{}, saga.NeedsCompensation(s, fmt.Errorf("rebinding %s: %w", name, err))
		}
		s.rebound = append(s.rebound, name)
	}
	return saga.Outcome{}, nil
}

func (s *RebindStep) Rollback(ctx context.Context) error {
	if len(s.rebound) == 0 {
		return nil
	}
	restore := make(map[string]string, len(s.rebound))
	for _, name := range s.rebound {
		restore[name] = s.oldURL
	}
	return s.config.SetConfigVars(ctx, s.app, restore)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
