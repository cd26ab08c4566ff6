package servicedb

import "time"

// StartupAction identifies a one-time (per client/schema change) action a
// caller wants to run at most once, tracked via StartupActions. Values
// match ServiceDatabase's enum so a future schema dump stays comparable.
type StartupAction int

const (
	// ActionClearCache instructs the caller to wipe its export/object
	// cache once after an upgrade.
	ActionClearCache StartupAction = 1
	// ActionClearConfigHashes instructs the caller to drop ConfigHashes,
	// forcing every cached config to regenerate.
	ActionClearConfigHashes StartupAction = 2
	// ActionCheckSchema instructs the caller to re-validate its on-disk
	// schema against the current client's expectations.
	ActionCheckSchema StartupAction = 4
)

// clientUpdateCheckPeriod mirrors the original's 3-hour self-upgrade
// throttle in checkForUpdates.
const clientUpdateCheckPeriod = 3 * time.Hour

// PerformStartupActions runs actions (by id, matching the running
// client's version or schema marker) that have not already run,
// invoking run for each new one and recording it as performed only if
// run succeeds.
func (d *DB) PerformStartupActions(id int, actions []StartupAction, run func(StartupAction) error) error {
	for _, a := range actions {
		done, err := d.IsActionPerformed(id, int(a))
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := run(a); err != nil {
			return err
		}
		if err := d.SetActionPerformed(id, int(a)); err != nil {
			return err
		}
	}
	return nil
}

// ShouldCheckForClientUpdate reports whether enough time has passed
// since the last self-upgrade check to run another one, per
// ServiceDatabase::checkForUpdates's 3-hour throttle.
func (d *DB) ShouldCheckForClientUpdate(now time.Time) (bool, error) {
	last, err := d.GetLastClientUpdateCheck()
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return now.Sub(last) >= clientUpdateCheckPeriod, nil
}
