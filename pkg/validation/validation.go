// Package validation checks election inputs before they reach an algorithm.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"npos_election/pkg/data"
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateElectionData checks structural integrity of an election snapshot.
// Structural violations are *data.ValidationError; stakes wider than 128
// bits are *data.InvalidDataError.
func ValidateElectionData(d *data.ElectionData) error {
	if d == nil {
		return data.NewValidationError("", "election data is nil")
	}
	if len(d.Candidates) == 0 {
		return data.NewValidationError("candidates", "no candidates available")
	}
	if len(d.Nominators) == 0 {
		return data.NewValidationError("nominators", "no nominators available")
	}

	candidates := make(map[string]struct{}, len(d.Candidates))
	for i, c := range d.Candidates {
		if c.AccountID == "" {
			return data.NewValidationError("candidates.account_id", "candidate %d has an empty account id", i)
		}
		if _, dup := candidates[c.AccountID]; dup {
			return data.NewValidationError("candidates", "duplicate candidate %s", c.AccountID)
		}
		if !c.Stake.FitsStake() {
			return &data.InvalidDataError{Message: fmt.Sprintf("stake of candidate %s exceeds 128 bits", c.AccountID)}
		}
		candidates[c.AccountID] = struct{}{}
	}

	nominators := make(map[string]struct{}, len(d.Nominators))
	for i, n := range d.Nominators {
		if n.AccountID == "" {
			return data.NewValidationError("nominators.account_id", "nominator %d has an empty account id", i)
		}
		if _, dup := nominators[n.AccountID]; dup {
			return data.NewValidationError("nominators", "duplicate nominator %s", n.AccountID)
		}
		if !n.Stake.FitsStake() {
			return &data.InvalidDataError{Message: fmt.Sprintf("stake of nominator %s exceeds 128 bits", n.AccountID)}
		}
		nominators[n.AccountID] = struct{}{}

		seen := make(map[string]struct{}, len(n.Targets))
		for _, target := range n.Targets {
			if _, ok := candidates[target]; !ok {
				return data.NewValidationError("targets",
					"nominator %s targets non-existent candidate %s", n.AccountID, target)
			}
			if _, dup := seen[target]; dup {
				return data.NewValidationError("targets",
					"nominator %s targets candidate %s more than once", n.AccountID, target)
			}
			seen[target] = struct{}{}
		}
	}
	return nil
}

// ValidateConfiguration checks an election configuration.
func ValidateConfiguration(cfg *data.ElectionConfiguration) error {
	if cfg == nil {
		return data.NewValidationError("", "election configuration is nil")
	}
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return data.NewValidationError(fieldPath(fe.Namespace()), "%s failed on the '%s' rule", fe.Field(), fe.Tag())
		}
		return data.NewValidationError("", "%v", err)
	}
	if cfg.Balancing != nil && !cfg.Balancing.Tolerance.FitsStake() {
		return &data.InvalidDataError{Message: "balancing tolerance exceeds 128 bits"}
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
