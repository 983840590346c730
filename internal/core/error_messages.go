// Package core provides the business logic for PEM upload and edit operations.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
// Errors related to database operations and constraints:
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Action: Refresh the file and try again
//	        Patterns: "duplicate key"
//
//	DB002 - Unique constraint: This revision was saved concurrently
//	        Action: Refresh the file and apply the edit again
//	        Patterns: "unique constraint", "violates unique"
//
//	DB003 - Foreign key: Referenced file does not exist
//	        Action: Verify the file was not deleted
//	        Patterns: "foreign key constraint", "violates foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Action: Please try again later
//	        Patterns: "timeout"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock"
//
// # PEM Format Errors (PEM001-PEM099)
//
// Errors raised while parsing an uploaded file. They are matched on the
// section of the *pem.FormatError, not on its text:
//
//	PEM001 - Invalid tags: The tag block is malformed
//	         Action: Check the <FMT> to <TXS> lines at the top of the file
//
//	PEM002 - Invalid coordinates: A loop or line coordinate is malformed
//	         Action: Check the <L##> and <P##> lines
//
//	PEM003 - Invalid header: The survey header is malformed
//	         Action: Check the client, survey and receiver lines
//
//	PEM004 - Invalid channel times: The channel time block is malformed
//	         Action: Check the channel times and the $ terminator
//
//	PEM005 - Invalid data: A reading is malformed
//	         Action: Check the reading named in the error
//
//	PEM006 - Invalid RAD: A reading's RAD tool line is malformed
//	         Action: Check the D5 or D7 line after the reading header
//
//	PEM007 - Inconsistent file: Counts in the file do not agree
//	         Action: Check the channel and reading counts in the header
//
//	PEM008 - File not found: No stored file has this ID
//	         Action: Verify the file ID or upload the file again
//	         Patterns: "pem file not found"
//
//	PEM009 - Revision not found: The file has no such revision
//	         Action: Refresh the revision list and try again
//	         Patterns: "revision not found"
//
// # Edit Errors (EDIT001-EDIT099)
//
// Errors raised when an edit cannot be applied. They are matched with
// errors.Is against the pem sentinels:
//
//	EDIT001 - Already averaged: The file has one reading per station and component
//	EDIT002 - Already split: The file holds only off-time channels
//	EDIT003 - Invalid coil area: The coil area must be a positive number
//	EDIT004 - Invalid current: The current must be a positive number
//	EDIT005 - Invalid station: A station label cannot be shifted
//	EDIT006 - Unknown component: The component is not X, Y or Z or not in the file
//	EDIT007 - Nothing to undo: The file has no earlier revision
//	EDIT008 - No channels: Splitting would leave no channels
//	EDIT009 - Unknown edit: The edit operation is not supported
//
// # File Errors (FILE001-FILE099)
//
// Errors related to file handling and parsing:
//
//	FILE001 - File too large: File exceeds the maximum upload size
//	          Action: Average or split the file locally before uploading
//	          Patterns: "file too large"
//
//	FILE002 - Not a PEM file: File does not start with a PEM tag block
//	          Action: Upload the .PEM file exported by the receiver
//	          Patterns: "not a pem file"
//
//	FILE003 - Encoding error: File contains invalid characters
//	          Action: Save file as UTF-8 encoding
//	          Patterns: "encoding error"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a PEM file to upload
//	          Patterns: "no file provided"
//
//	FILE005 - Empty file: The uploaded file is empty
//	          Action: Please upload a PEM file with readings
//	          Patterns: "empty file"
//
// # Upload Errors (UPL001-UPL099)
//
// Errors related to the upload process and session management:
//
//	UPL001 - Upload cancelled: Upload was cancelled by user
//	         Action: Start a new upload when ready
//	         Patterns: "upload cancelled"
//
//	UPL002 - System busy: Too many uploads in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many uploads"
//
//	UPL003 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
//	UPL004 - Request timeout: Request timed out
//	         Action: Try uploading a smaller file or check your connection
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001-RATE099)
//
// Errors related to request throttling:
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Typed errors from the pem package are matched first. Remaining error
// patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones. Multiple patterns can map to the same code
// (e.g., DB002 matches both "unique constraint" and "violates unique").
//
// # For Support Staff
//
// When a user reports an error code:
//  1. Look up the code in this reference
//  2. Check the associated patterns to understand what triggered it
//  3. Review the suggested action to guide the user
//  4. If ERR000, check application logs for the original technical error
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/pemtool/internal/pem"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// sectionMessages maps the section of a *pem.FormatError to its message.
var sectionMessages = map[string]UserMessage{
	pem.SectionTags: {
		Message: "The tag block is malformed",
		Action:  "Check the <FMT> to <TXS> lines at the top of the file",
		Code:    "PEM001",
	},
	pem.SectionCoordinates: {
		Message: "A loop or line coordinate is malformed",
		Action:  "Check the <L##> and <P##> lines",
		Code:    "PEM002",
	},
	pem.SectionHeader: {
		Message: "The survey header is malformed",
		Action:  "Check the client, survey and receiver lines",
		Code:    "PEM003",
	},
	pem.SectionChannelTimes: {
		Message: "The channel time block is malformed",
		Action:  "Check the channel times and the $ terminator",
		Code:    "PEM004",
	},
	pem.SectionData: {
		Message: "A reading is malformed",
		Action:  "Check the reading named in the error",
		Code:    "PEM005",
	},
	pem.SectionRAD: {
		Message: "A reading's RAD tool line is malformed",
		Action:  "Check the D5 or D7 line after the reading header",
		Code:    "PEM006",
	},
	pem.SectionModel: {
		Message: "Counts in the file do not agree",
		Action:  "Check the channel and reading counts in the header",
		Code:    "PEM007",
	},
}

// sentinelMessages is checked with errors.Is, in order.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrFileNotFound, UserMessage{
		Message: "No stored file has this ID",
		Action:  "Verify the file ID or upload the file again",
		Code:    "PEM008",
	}},
	{ErrRevisionNotFound, UserMessage{
		Message: "The file has no such revision",
		Action:  "Refresh the revision list and try again",
		Code:    "PEM009",
	}},
	{ErrRevisionConflict, UserMessage{
		Message: "The file changed while the revert was running",
		Action:  "Reload the file and revert again",
		Code:    "PEM010",
	}},
	{pem.ErrAlreadyAveraged, UserMessage{
		Message: "The file is already averaged",
		Action:  "Each station and component already has one reading",
		Code:    "EDIT001",
	}},
	{pem.ErrAlreadySplit, UserMessage{
		Message: "The file channels are already split",
		Action:  "The file already holds only off-time channels",
		Code:    "EDIT002",
	}},
	{pem.ErrInvalidCoilArea, UserMessage{
		Message: "The coil area is invalid",
		Action:  "Enter a positive coil area",
		Code:    "EDIT003",
	}},
	{pem.ErrInvalidCurrent, UserMessage{
		Message: "The current is invalid",
		Action:  "Enter a positive current",
		Code:    "EDIT004",
	}},
	{pem.ErrInvalidStation, UserMessage{
		Message: "A station label cannot be shifted",
		Action:  "Station labels must be a number with an optional direction letter",
		Code:    "EDIT005",
	}},
	{pem.ErrUnknownComponent, UserMessage{
		Message: "The component is not in the file",
		Action:  "Choose X, Y or Z from the components the file contains",
		Code:    "EDIT006",
	}},
	{pem.ErrNothingToUndo, UserMessage{
		Message: "There is nothing to undo",
		Action:  "The file is at its uploaded revision",
		Code:    "EDIT007",
	}},
	{pem.ErrNoChannels, UserMessage{
		Message: "Splitting would leave no channels",
		Action:  "Check the channel times of the file",
		Code:    "EDIT008",
	}},
	{ErrUnknownOp, UserMessage{
		Message: "The edit operation is not supported",
		Action:  "Choose one of the listed edit operations",
		Code:    "EDIT009",
	}},
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Patterns are matched using strings.Contains, so partial matches work.
// The first matching pattern wins, so order matters:
//   - More specific patterns should come before general ones
//   - Multiple patterns can map to the same error code
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Refresh the file and try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This revision was saved concurrently",
			Action:  "Refresh the file and apply the edit again",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "This revision was saved concurrently",
			Action:  "Refresh the file and apply the edit again",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced file does not exist",
			Action:  "Verify the file was not deleted",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced file does not exist",
			Action:  "Verify the file was not deleted",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
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

	// =========================================================================
	// Lookup Errors (PEM008-PEM009), for errors that lost their type
	// =========================================================================
	{
		pattern: "pem file not found",
		msg:     sentinelMessages[0].msg,
	},
	{
		pattern: "revision not found",
		msg:     sentinelMessages[1].msg,
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Average or split the file locally before uploading",
			Code:    "FILE001",
		},
	},
	{
		pattern: "not a pem file",
		msg: UserMessage{
			Message: "File does not start with a PEM tag block",
			Action:  "Upload the .PEM file exported by the receiver",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a PEM file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a PEM file with readings",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL004)
	// =========================================================================
	{
		pattern: "upload cancelled",
		msg: UserMessage{
			Message: "Upload was cancelled",
			Action:  "Start a new upload when ready",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Parse and edit errors are matched by type, anything else by the known
// text patterns (case-insensitive). If nothing matches, a generic fallback
// message with code ERR000 is returned.
//
// Example:
//
//	_, err := pem.Parse(data)
//	msg := MapError(err)
//	// msg.Code == "PEM004" for a missing $ terminator
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var fe *pem.FormatError
	if errors.As(err, &fe) {
		if msg, ok := sectionMessages[fe.Section]; ok {
			return msg
		}
	}
	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
//
// Example output: "The file is already averaged (Code: EDIT001). Each station and component already has one reading"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error maps to a specific message rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// Returns nil if err is nil.
//
// Example:
//
//	ue := NewUserError(err)
//	slog.Error("edit failed", "error", ue.Technical)
//	fmt.Println(ue.User.Code) // "EDIT003"
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
