package engine

import "fmt"

// Code is a protocol-visible error code. The numbering is part of the wire
// contract and must not change.
type Code int

const (
	CodeUnknownCommand       Code = 1
	CodeMalformedRequest     Code = 2
	CodeUserNotFound         Code = 101
	CodeAuthMismatch         Code = 102
	CodeTableNotFound        Code = 201
	CodeTableExists          Code = 202
	CodeDuplicateRowID       Code = 301
	CodeDuplicateUniqueValue Code = 302
	CodeMissingIndexedValue  Code = 303
	CodeUnknownIndexedValue  Code = 304
)

var codeMessages = map[Code]string{
	CodeUnknownCommand:       "command type does not exist",
	CodeMalformedRequest:     "request is improperly formatted",
	CodeUserNotFound:         "user does not exist",
	CodeAuthMismatch:         "authentication bytes did not match",
	CodeTableNotFound:        "table does not exist",
	CodeTableExists:          "table already exists",
	CodeDuplicateRowID:       "row with same id already exists",
	CodeDuplicateUniqueValue: "row with same unique value already exists",
	CodeMissingIndexedValue:  "not all indexed columns have values",
	CodeUnknownIndexedValue:  "values specified for non-existent indices",
}

func (c Code) Error() string {
	if msg, ok := codeMessages[c]; ok {
		return fmt.Sprintf("%d: %s", int(c), msg)
	}
	return fmt.Sprintf("%d: unknown error", int(c))
}

// AsCode extracts the wire code from an error produced by the engine.
// Errors without a code map to CodeMalformedRequest.
func AsCode(err error) Code {
	if c, ok := err.(Code); ok {
		return c
	}
	return CodeMalformedRequest
}
