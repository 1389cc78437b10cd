package core

// # Error Codes Reference
//
// This file maps errors to user-friendly messages with codes for support
// reference. Sentinel errors are matched first with errors.Is; anything else
// falls through to case-insensitive substring patterns on the error text.
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid input: a request field is missing or out of range
//	         Matches: ErrValidation
//	VAL002 - Invalid prefix: prefix is not a letter followed by letters/digits
//	         Matches: pipeline.ErrInvalidPrefix
//
// # Identifier Errors (ID001-ID099)
//
//	ID001 - Duplicate ID: an external ID already exists in the catalog
//	        Matches: ErrConflict, store.ErrDuplicate, "duplicate key", "unique constraint"
//	ID002 - Reset disabled: counter reset is not enabled on this server
//	        Matches: ErrResetDisabled
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import not found: the session expired or was discarded
//	IMP002 - Not ready: included rows are unreviewed, without ID or item type
//	IMP003 - Invalid decision: the decision is not one of the suggestions
//	IMP004 - System busy: too many imports are being classified
//	IMP005 - Wrong state: the import does not allow this step
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Not found: the requested record does not exist
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled ("context canceled")
//	REQ002 - Request timed out ("context deadline exceeded")
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests ("rate limit")
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application log for the request id.

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/pipeline"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorKind maps a sentinel error to its user message.
type errorKind struct {
	target error
	msg    UserMessage
}

// errorKinds is checked in order; more specific sentinels come first.
var errorKinds = []errorKind{
	{ErrImportNotFound, UserMessage{
		Message: "Import session not found",
		Action:  "The import may have expired. Please start a new import",
		Code:    "IMP001",
	}},
	{pipeline.ErrNotReady, UserMessage{
		Message: "Some rows are not ready to commit",
		Action:  "Review possible matches, generate IDs and set an item type for every included row",
		Code:    "IMP002",
	}},
	{pipeline.ErrInvalidDecision, UserMessage{
		Message: "That decision does not apply to this row",
		Action:  "Choose one of the suggested parts or REJECT",
		Code:    "IMP003",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP004",
	}},
	{ErrPrecondition, UserMessage{
		Message: "The import does not allow this step",
		Action:  "Reload the import and check its rows",
		Code:    "IMP005",
	}},
	{pipeline.ErrInvalidPrefix, UserMessage{
		Message: "Prefix is not valid",
		Action:  "Use a letter followed by up to nine letters or digits, e.g. PS or MD",
		Code:    "VAL002",
	}},
	{ErrValidation, UserMessage{
		Message: "Request contains invalid values",
		Action:  "Correct the field named in the error and retry",
		Code:    "VAL001",
	}},
	{ErrConflict, duplicateIDMessage},
	{store.ErrDuplicate, duplicateIDMessage},
	{ErrResetDisabled, UserMessage{
		Message: "Counter reset is disabled",
		Action:  "Enable ADMIN_ALLOW_RESET on a non-production server",
		Code:    "ID002",
	}},
	{ErrNotFound, notFoundMessage},
	{store.ErrNotFound, notFoundMessage},
}

var (
	duplicateIDMessage = UserMessage{
		Message: "A part with this external ID already exists",
		Action:  "Generate new IDs for the affected rows and commit again",
		Code:    "ID001",
	}
	notFoundMessage = UserMessage{
		Message: "The requested record was not found",
		Action:  "Check the identifier and try again",
		Code:    "DB001",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages
// for errors that carry no sentinel, mostly from the database driver. The
// first matching pattern wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{pattern: "duplicate key", msg: duplicateIDMessage},
	{pattern: "unique constraint", msg: duplicateIDMessage},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again; a reserved block may have been consumed without being returned",
			Code:    "REQ002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := svc.CreateParts(ctx, parts)
//	msg := MapError(err)
//	// msg.Code == "ID001" when an external ID already exists
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback. Use it to decide whether the raw error text is safe
// and useful to show.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
