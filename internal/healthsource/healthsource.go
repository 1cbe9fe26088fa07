package healthsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nholik/watchdog-bridge/internal/payload"
)

// RecordType names one kind of health record the provider can return.
type RecordType string

// Record types captured for every snapshot, in request order.
var RecordTypes = []RecordType{
	"Steps",
	"SleepSession",
	"HeartRate",
	"RestingHeartRate",
	"ExerciseSession",
	"Weight",
	"BodyFat",
	"Nutrition",
	"ActiveCaloriesBurned",
	"TotalCaloriesBurned",
	"Distance",
	"Hydration",
	"BloodPressure",
	"Vo2Max",
	"BasalMetabolicRate",
	"BodyWaterMass",
	"BoneMass",
	"LeanBodyMass",
	"FloorsClimbed",
	"ElevationGained",
	"OxygenSaturation",
	"RespiratoryRate",
	"HeartRateVariabilityRmssd",
	"BodyTemperature",
	"Height",
	"BloodGlucose",
}

// Permission is a single grant the provider must hold before capture.
type Permission string

const (
	PermissionReadHistory    Permission = "read:history"
	PermissionReadBackground Permission = "read:background"
)

// ReadPermission returns the read grant for a record type.
func ReadPermission(rt RecordType) Permission {
	return Permission("read:" + string(rt))
}

var (
	// ErrPermissionMissing reports that required grants are not held.
	ErrPermissionMissing = errors.New("health provider permission missing")
	// ErrQuotaExceeded is the provider's rate-limit signal.
	ErrQuotaExceeded = errors.New("health provider quota exceeded")
)

// Source is the capability the sync engine consumes.
type Source interface {
	Permissions() []Permission
	HasPermission(ctx context.Context, perms []Permission) (bool, error)
	RequestPermission(ctx context.Context, perms []Permission) (bool, error)
	CaptureSnapshot(ctx context.Context, start, end time.Time) (Capture, error)
}

// RecordReader is the platform binding that reads raw records.
type RecordReader interface {
	GrantedPermissions(ctx context.Context) ([]Permission, error)
	RequestPermissions(ctx context.Context, perms []Permission) ([]Permission, error)
	ReadRecords(ctx context.Context, rt RecordType, start, end time.Time) ([]json.RawMessage, error)
}

// Capture is the outcome of one snapshot: the opaque data plus the record
// types that could not be read.
type Capture struct {
	Snapshot payload.Snapshot
	Failures []TypeFailure
}

// TypeFailure records one skipped record type.
type TypeFailure struct {
	Type  RecordType
	Err   error
	Quota bool
}

// CaptureError is returned when no record type could be read at all.
type CaptureError struct {
	Failures []TypeFailure
}

func (e *CaptureError) Error() string {
	if len(e.Failures) == 0 {
		return "capture failed"
	}
	return fmt.Sprintf("capture failed: all %d record types failed (last: %s: %v)",
		len(e.Failures), e.Failures[len(e.Failures)-1].Type, e.Failures[len(e.Failures)-1].Err)
}
