package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TaskIdentity is the deterministic key of one parameterized unit of work.
// It is the primary key of the marker table and the deduplication key used
// by the range scheduler.
type TaskIdentity string

// String implements fmt.Stringer.
func (id TaskIdentity) String() string {
	return string(id)
}

const (
	identityHashLen    = 10
	summaryValueMaxLen = 16
	summaryMaxParams   = 3
)

var (
	familyNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	summaryUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// NewIdentity derives the identity of a task from its family name and
// parameter values:
//
//	<family>_<summary>_<hash>
//
// The summary joins up to three parameter values in key order, each
// truncated and reduced to [A-Za-z0-9_]. The hash is the first ten hex
// digits of SHA-256 over the parameters encoded as JSON with sorted keys,
// so two parameter sets that share a summary still get distinct identities.
func NewIdentity(family string, params map[string]string) (TaskIdentity, error) {
	if err := ValidateFamilyName(family); err != nil {
		return "", err
	}
	return deriveIdentity(family, params), nil
}

func deriveIdentity(family string, params map[string]string) TaskIdentity {
	// encoding/json writes map keys in sorted order and cannot fail on
	// map[string]string.
	encoded, _ := json.Marshal(params)
	sum := sha256.Sum256(encoded)
	hash := hex.EncodeToString(sum[:])[:identityHashLen]

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var summary []string
	for i, k := range keys {
		if i == summaryMaxParams {
			break
		}
		v := params[k]
		if len(v) > summaryValueMaxLen {
			v = v[:summaryValueMaxLen]
		}
		summary = append(summary, summaryUnsafeChars.ReplaceAllString(v, "_"))
	}

	return TaskIdentity(fmt.Sprintf("%s_%s_%s", family, strings.Join(summary, "_"), hash))
}

// ValidateFamilyName checks that a family name is usable as an identity prefix.
func ValidateFamilyName(name string) error {
	if name == "" {
		return ErrFamilyNameRequired
	}
	if !familyNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrFamilyNameInvalidChars, name)
	}
	return nil
}

// Family is a set of load tasks that differ only by their time parameter.
type Family struct {
	// Name identifies the family, e.g. "OrdersImporter".
	Name string
	// Granularity is the calendar unit of one instance.
	Granularity Granularity
	// Location is the zone in which boundaries are computed. Nil means UTC.
	Location *time.Location
	// ParamName overrides the parameter name ("date" or "hour").
	ParamName string
}

// NewFamily returns a validated family.
func NewFamily(name string, granularity Granularity, loc *time.Location) (Family, error) {
	f := Family{Name: name, Granularity: granularity, Location: loc}
	if err := f.Validate(); err != nil {
		return Family{}, err
	}
	return f, nil
}

// Validate checks the family definition.
func (f Family) Validate() error {
	return ValidateFamilyName(f.Name)
}

// Param returns the name of the time parameter.
func (f Family) Param() string {
	if f.ParamName != "" {
		return f.ParamName
	}
	return f.Granularity.ParamName()
}

// Loc returns the family location, defaulting to UTC.
func (f Family) Loc() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

// Instance returns the task instance whose unit contains t. The family is
// expected to be validated already; see NewFamily.
func (f Family) Instance(t time.Time) Instance {
	start := f.Granularity.Truncate(t, f.Loc())
	value := start.Format(f.Granularity.Layout())
	params := map[string]string{f.Param(): value}
	return Instance{
		Family:      f.Name,
		Granularity: f.Granularity,
		Time:        start,
		Value:       value,
		Params:      params,
		Identity:    deriveIdentity(f.Name, params),
	}
}

// Identity is a shorthand for f.Instance(t).Identity.
func (f Family) Identity(t time.Time) TaskIdentity {
	return f.Instance(t).Identity
}

// Instance is one parameterized unit of work of a family.
type Instance struct {
	Family      string
	Granularity Granularity
	// Time is the start of the unit in the family location.
	Time time.Time
	// Value is Time formatted with the granularity layout.
	Value    string
	Params   map[string]string
	Identity TaskIdentity
}

// End returns the exclusive upper bound of the instance's unit.
func (i Instance) End() time.Time {
	return i.Granularity.Next(i.Time)
}
