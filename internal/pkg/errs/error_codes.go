/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both inside the
server and in responses sent to REST and realtime clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrInvalidID indicates a malformed user, conversation or message id.
	ErrInvalidID = 1008
)

// 2xxx: Chat and Content Errors
const (
	ErrConversationNotFound = 2101
	ErrUserNotFound         = 2102
	ErrMessageNotFound      = 2103

	// ErrNotParticipant is returned when the caller is not one of the two participants.
	ErrNotParticipant = 2104

	// ErrConversationConflict signals a lost conversation-creation race. Stores retry it internally.
	ErrConversationConflict = 2105

	ErrMessageContentEmpty   = 2201
	ErrMessageContentTooLong = 2202

	// ErrSelfConversation is returned when sender and recipient are the same user.
	ErrSelfConversation = 2203

	ErrInvalidRole = 2204

	ErrFileSizeTooLarge = 2301
	ErrFileTypeInvalid  = 2302
)

// 3xxx: Authentication and Session Errors
const (
	// ErrUnauthorized indicates a missing credential.
	ErrUnauthorized = 3001

	// ErrTokenInvalid indicates a credential with a bad signature, an unknown role or an expired lifetime.
	ErrTokenInvalid = 3002

	// ErrForbidden indicates that the caller's role does not allow the operation.
	ErrForbidden = 3003

	// ErrSessionKicked indicates that the connection was evicted by a newer one for the same user.
	ErrSessionKicked = 3004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageUnavailable indicates that the conversation store could not be reached.
	ErrStorageUnavailable = 5001

	ErrFileStorageFailed = 5002

	// ErrFeatureDisabled indicates an optional integration that is not configured.
	ErrFeatureDisabled = 5003
)
