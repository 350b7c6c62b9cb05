// Package mint drives the multi-step token creation flow: validate the
// creator's input, pin the asset and its metadata to the content store,
// submit the mint transaction, and wait for its receipt. Each step is a
// named stage so a failure reports exactly how far the flow got.
package mint

import "fmt"

// Stage is one step of the mint flow.
type Stage string

const (
	StageIdle                  Stage = "idle"
	StageValidatingInput       Stage = "validating_input"
	StageUploadingAsset        Stage = "uploading_asset"
	StageUploadingMetadata     Stage = "uploading_metadata"
	StageSubmittingTransaction Stage = "submitting_transaction"
	StageAwaitingConfirmation  Stage = "awaiting_confirmation"
	StageSucceeded             Stage = "succeeded"
	StageFailed                Stage = "failed"
)

// Error reports a mint failure together with the stage it happened in.
// Resources created in earlier stages (pinned content) are not rolled
// back; pins are harmless orphans and the transaction was either never
// submitted or its receipt tells the truth.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mint failed during %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FieldErrors maps input field names to validation messages. It is the
// cause of a StageValidatingInput failure.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	return fmt.Sprintf("invalid input: %d field(s)", len(f))
}
