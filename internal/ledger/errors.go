package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Write failure classes. Writes leave the read model untouched; the
// orchestrators translate these into user-facing messages.
var (
	// ErrUserRejected means the wallet refused to sign the transaction.
	ErrUserRejected = errors.New("transaction rejected by user")

	// ErrInsufficientFunds means the sender cannot cover value plus gas.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrReceiptTimeout means the confirmation wait expired. The
	// transaction may still confirm later; callers should re-check
	// before resubmitting.
	ErrReceiptTimeout = errors.New("confirmation wait timed out")

	// ErrNetwork wraps transport failures on read calls.
	ErrNetwork = errors.New("ledger network error")
)

// RevertError carries the contract's revert reason.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "transaction reverted"
	}
	return "transaction reverted: " + e.Reason
}

// JSON-RPC error codes of interest. 4001 is the EIP-1193 user-rejection
// code; 3 is the execution-revert code.
const (
	codeUserRejected = 4001
	codeReverted     = 3
	codeServerError  = -32000
)

// classifyRPCError maps a node error onto the write failure classes.
func classifyRPCError(e *rpcError) error {
	switch {
	case e.Code == codeUserRejected:
		return ErrUserRejected
	case e.Code == codeReverted || strings.Contains(e.Message, "execution reverted"):
		return &RevertError{Reason: revertReason(e)}
	case e.Code == codeServerError && strings.Contains(strings.ToLower(e.Message), "insufficient funds"):
		return ErrInsufficientFunds
	default:
		return e
	}
}

// revertReason extracts the human part of a revert message.
func revertReason(e *rpcError) string {
	if e.Data != "" {
		return e.Data
	}
	reason := strings.TrimPrefix(e.Message, "execution reverted")
	return strings.TrimPrefix(strings.TrimSpace(reason), ": ")
}

// UserMessage renders any marketplace operation error as a short
// human-readable sentence. Raw failure values never reach the UI.
func UserMessage(err error) string {
	var revert *RevertError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserRejected):
		return "Transaction was canceled"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds for this transaction"
	case errors.Is(err, ErrReceiptTimeout):
		return "Confirmation is taking longer than expected; the transaction may still go through"
	case errors.As(err, &revert):
		if revert.Reason != "" {
			return fmt.Sprintf("Transaction failed: %s", revert.Reason)
		}
		return "Transaction failed"
	case errors.Is(err, ErrNetwork):
		return "Network error, please try again"
	default:
		return "Something went wrong, please try again"
	}
}
