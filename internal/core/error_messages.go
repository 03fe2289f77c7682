package core

// # Error Codes Reference
//
// User-facing messages with codes for support reference. Typed errors are
// matched first with errors.Is/errors.As; anything else falls back to
// case-insensitive substring patterns.
//
// # Dedupe Errors (DDP001-DDP099)
//
//	DDP001 - Timeout: The deduplication service did not answer in time
//	DDP002 - Service error: The deduplication service returned an error
//	DDP003 - Malformed response: The service response could not be understood
//	DDP004 - Merge contract: The service grouped records it was never sent
//	DDP005 - Transport: Unable to reach the deduplication service
//	DDP006 - Cancelled: The request was cancelled before it finished
//	DDP007 - Shutting down: The server is stopping and accepts no new datasets
//	DDP010 - No dataset: No dataset has been uploaded yet
//	DDP011 - Not ready: The dataset is still being processed or failed
//	DDP012 - Record not found: The record is not part of the current dataset
//	DDP013 - Group not found: The group is not part of the current dataset
//	DDP014 - Column not found: The column is not part of the dataset header
//	DDP015 - History disabled: No run history database is configured
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE004 - No file
//	FILE005 - Empty file
//	FILE006 - Too many rows
//
// # Rate Limiting (RATE001)
//
// # Default Error (ERR000)
//
// When a user reports ERR000, check application logs for the original error.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgTimeout = UserMessage{
		Message: "The deduplication service did not answer in time",
		Action:  "Try a smaller file or upload again later",
		Code:    "DDP001",
	}
	msgService = UserMessage{
		Message: "The deduplication service returned an error",
		Action:  "Upload the file again; contact support if it keeps failing",
		Code:    "DDP002",
	}
	msgMalformed = UserMessage{
		Message: "The deduplication service response could not be understood",
		Action:  "Contact support with this code",
		Code:    "DDP003",
	}
	msgMergeContract = UserMessage{
		Message: "The deduplication result referenced unknown records",
		Action:  "Contact support with this code",
		Code:    "DDP004",
	}
	msgTransport = UserMessage{
		Message: "Unable to reach the deduplication service",
		Action:  "Check your connection and try again",
		Code:    "DDP005",
	}
	msgNoDataset = UserMessage{
		Message: "No dataset has been uploaded yet",
		Action:  "Upload a CSV file to start",
		Code:    "DDP010",
	}
	msgNotReady = UserMessage{
		Message: "The dataset is not ready",
		Action:  "Wait for processing to finish",
		Code:    "DDP011",
	}
	msgRecordNotFound = UserMessage{
		Message: "Record not found in the current dataset",
		Action:  "Refresh the table",
		Code:    "DDP012",
	}
	msgGroupNotFound = UserMessage{
		Message: "Group not found in the current dataset",
		Action:  "Refresh the table",
		Code:    "DDP013",
	}
	msgColumnNotFound = UserMessage{
		Message: "Column not found in the current dataset",
		Action:  "Check the column name against the file header",
		Code:    "DDP014",
	}
	msgHistoryDisabled = UserMessage{
		Message: "Run history is not configured",
		Action:  "Set DATABASE_URL to keep a history of runs",
		Code:    "DDP015",
	}
	msgShuttingDown = UserMessage{
		Message: "The server is shutting down",
		Action:  "Upload the file again once the server is back",
		Code:    "DDP007",
	}
	msgCanceled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "DDP006",
	}
)

// typedMessages are checked in order with errors.Is.
var typedMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrTimeout, msgTimeout},
	{ErrMalformedResponse, msgMalformed},
	{ErrMergeContract, msgMergeContract},
	{ErrNoDataset, msgNoDataset},
	{ErrDatasetNotReady, msgNotReady},
	{ErrRecordNotFound, msgRecordNotFound},
	{ErrGroupNotFound, msgGroupNotFound},
	{ErrColumnNotFound, msgColumnNotFound},
	{ErrHistoryDisabled, msgHistoryDisabled},
	{ErrShuttingDown, msgShuttingDown},
	{ErrFileTooLarge, fileMessages["file too large"]},
	{ErrTooManyRows, fileMessages["too many rows"]},
	{ErrEmptyFile, fileMessages["empty file"]},
	{ErrInvalidCSV, fileMessages["invalid csv"]},
	{context.Canceled, msgCanceled},
}

var fileMessages = map[string]UserMessage{
	"file too large": {
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	},
	"invalid csv": {
		Message: "File is not a valid CSV",
		Action:  "Ensure file is comma-separated with a header row",
		Code:    "FILE002",
	},
	"no file provided": {
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	},
	"empty file": {
		Message: "The uploaded file has no data rows",
		Action:  "Please upload a CSV file with data rows",
		Code:    "FILE005",
	},
	"too many rows": {
		Message: "File has too many rows",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE006",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch untyped errors. First match wins.
var errorPatterns = []errorPattern{
	{"timed out", msgTimeout},
	{"context deadline exceeded", msgTimeout},
	{"connection refused", msgTransport},
	{"no such host", msgTransport},
	{"no file provided", fileMessages["no file provided"]},
	{"file too large", fileMessages["file too large"]},
	{"request body too large", fileMessages["file too large"]},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when no specific pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, tm := range typedMessages {
		if errors.Is(err, tm.target) {
			return tm.msg
		}
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return msgService
	}
	var te *TransportError
	if errors.As(err, &te) {
		return msgTransport
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
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
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

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
