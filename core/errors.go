package core

import (
	"fmt"
)

type ErrorNotFound struct {
}

func (e ErrorNotFound) Error() string {
	return "Not Found"
}

func NewErrorNotFound() ErrorNotFound {
	return ErrorNotFound{}
}

type ErrorAlreadyExists struct {
}

func (e ErrorAlreadyExists) Error() string {
	return "Already Exists"
}

func NewErrorAlreadyExists() ErrorAlreadyExists {
	return ErrorAlreadyExists{}
}

type ErrorPermissionDenied struct {
}

func (e ErrorPermissionDenied) Error() string {
	return "Permission Denied"
}

func NewErrorPermissionDenied() ErrorPermissionDenied {
	return ErrorPermissionDenied{}
}

type ErrorAlreadyDeleted struct {
}

func (e ErrorAlreadyDeleted) Error() string {
	return "Already Deleted"
}

func NewErrorAlreadyDeleted() ErrorAlreadyDeleted {
	return ErrorAlreadyDeleted{}
}

// AuthRejectReason tells why a token or an account was refused
type AuthRejectReason int

const (
	AuthRejectMissing AuthRejectReason = iota
	AuthRejectMalformed
	AuthRejectSignatureInvalid
	AuthRejectExpired
	AuthRejectInactive
)

func (r AuthRejectReason) String() string {
	switch r {
	case AuthRejectMissing:
		return "Missing"
	case AuthRejectMalformed:
		return "Malformed"
	case AuthRejectSignatureInvalid:
		return "SignatureInvalid"
	case AuthRejectExpired:
		return "Expired"
	case AuthRejectInactive:
		return "Inactive"
	default:
		return "Unknown"
	}
}

type ErrorAuthRejected struct {
	Reason AuthRejectReason
}

func (e ErrorAuthRejected) Error() string {
	return "Auth Rejected: " + e.Reason.String()
}

func NewErrorAuthRejected(reason AuthRejectReason) ErrorAuthRejected {
	return ErrorAuthRejected{Reason: reason}
}

type ErrorRecipientNotFound struct {
}

func (e ErrorRecipientNotFound) Error() string {
	return "Recipient Not Found"
}

func NewErrorRecipientNotFound() ErrorRecipientNotFound {
	return ErrorRecipientNotFound{}
}

type ErrorInvalidArgument struct {
	Field  string
	Reason string
}

func (e ErrorInvalidArgument) Error() string {
	return fmt.Sprintf("Invalid Argument: %s %s", e.Field, e.Reason)
}

func NewErrorInvalidArgument(field, reason string) ErrorInvalidArgument {
	return ErrorInvalidArgument{Field: field, Reason: reason}
}

type ErrorInvalidCredentials struct {
}

func (e ErrorInvalidCredentials) Error() string {
	return "Invalid Credentials"
}

func NewErrorInvalidCredentials() ErrorInvalidCredentials {
	return ErrorInvalidCredentials{}
}

type ErrorRateLimited struct {
}

func (e ErrorRateLimited) Error() string {
	return "Rate Limited"
}

func NewErrorRateLimited() ErrorRateLimited {
	return ErrorRateLimited{}
}

type ErrorTooManyConnections struct {
}

func (e ErrorTooManyConnections) Error() string {
	return "Too Many Connections"
}

func NewErrorTooManyConnections() ErrorTooManyConnections {
	return ErrorTooManyConnections{}
}

type ErrorChannelClosed struct {
}

func (e ErrorChannelClosed) Error() string {
	return "Channel Closed"
}

func NewErrorChannelClosed() ErrorChannelClosed {
	return ErrorChannelClosed{}
}

type ErrorBacklogOverflow struct {
}

func (e ErrorBacklogOverflow) Error() string {
	return "Backlog Overflow"
}

func NewErrorBacklogOverflow() ErrorBacklogOverflow {
	return ErrorBacklogOverflow{}
}
