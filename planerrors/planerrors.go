// Copyright 2026 The Tileplan Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package planerrors defines the planner's error taxonomy (spec §7).
// Configuration errors and unknown-method errors are hard library errors
// built on github.com/pingcap/errors, matching the teacher's
// errors.Trace(err) / errors.Annotatef(...) idiom. An infeasible
// candidate is not represented as an error (see plan.HighestCost and
// convplan's retry ladder): the search driver recovers by relaxing the
// memory bound. Only when even the unbounded memory-minimising pass finds
// no plan does an entry point return an error, built with
// NewConfigurationError.
package planerrors

import "github.com/pingcap/errors"

type configurationError struct{ error }

// NewConfigurationError reports an invalid plan-constraint key, an
// out-of-range dimension index, or an incompatible constraint combination.
// It is not recoverable locally; callers should abort planning.
func NewConfigurationError(format string, args ...interface{}) error {
	return configurationError{errors.Errorf("tileplan: configuration error: "+format, args...)}
}

// NewUnknownMethodError reports an unrecognised method/enum token
// encountered while parsing plan constraints.
func NewUnknownMethodError(token string) error {
	return configurationError{errors.Errorf("tileplan: unknown method token %q", token)}
}

// IsConfigurationError reports whether err was produced by
// NewConfigurationError or NewUnknownMethodError.
func IsConfigurationError(err error) bool {
	_, ok := err.(configurationError)
	return ok
}

// Wrap annotates err with additional context while preserving its stack
// trace, mirroring errors.Trace(err) in the teacher codebase.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Annotate(err, context)
}
