/*
	Copyright 2025 NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package faults holds the error taxonomy shared by the unlock engine and its components. None of these errors
// ever leave an engine entry point; they exist so components can report what went wrong and the engine can log it.
package faults

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

var (
	// ErrCollaboratorUnavailable is matched by every CollaboratorError.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrStaleCallback marks a result that arrived for a session that has since been torn down.
	ErrStaleCallback = errors.New("stale callback")

	// ErrMalformedCandidate marks a credential candidate whose length does not match the configured pin length.
	ErrMalformedCandidate = errors.New("malformed candidate")
)

// CollaboratorError reports a failed or panicking call into an external collaborator.
type CollaboratorError struct {
	Collaborator string
	Cause        error
	Stack        string
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Cause)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

// Unavailable wraps cause as a CollaboratorError. A nil cause yields nil.
func Unavailable(collaborator string, cause error) error {
	if cause == nil {
		return nil
	}
	return &CollaboratorError{
		Collaborator: collaborator,
		Cause:        cause,
	}
}

// Guard invokes f, converting both a returned error and a panic into a CollaboratorError.
func Guard(collaborator string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CollaboratorError{
				Collaborator: collaborator,
				Cause:        errors.Errorf("panic: %v", r),
				Stack:        string(debug.Stack()),
			}
		}
	}()
	return Unavailable(collaborator, f())
}

// IsStale returns true if err marks a dropped stale result.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleCallback)
}
