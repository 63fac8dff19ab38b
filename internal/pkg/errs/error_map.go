package errs

import "net/http"

// errorMap holds the template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Malformed request body.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrInvalidID:            {Code: ErrInvalidID, Message: "Malformed identifier.", Status: http.StatusBadRequest},

	// 2xxx
	ErrConversationNotFound:  {Code: ErrConversationNotFound, Message: "Conversation not found.", Status: http.StatusNotFound},
	ErrUserNotFound:          {Code: ErrUserNotFound, Message: "User not found.", Status: http.StatusNotFound},
	ErrMessageNotFound:       {Code: ErrMessageNotFound, Message: "Message not found.", Status: http.StatusNotFound},
	ErrNotParticipant:        {Code: ErrNotParticipant, Message: "You are not a participant of this conversation.", Status: http.StatusForbidden},
	ErrConversationConflict:  {Code: ErrConversationConflict, Message: "Conversation is being created, please retry.", Status: http.StatusConflict},
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message content is required.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long (max %d bytes).", Status: http.StatusBadRequest},
	ErrSelfConversation:      {Code: ErrSelfConversation, Message: "You cannot message yourself.", Status: http.StatusBadRequest},
	ErrInvalidRole:           {Code: ErrInvalidRole, Message: "Unknown role.", Status: http.StatusBadRequest},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large (max %d MB).", Status: http.StatusBadRequest},
	ErrFileTypeInvalid:       {Code: ErrFileTypeInvalid, Message: "Unsupported file type.", Status: http.StatusBadRequest},

	// 3xxx
	ErrUnauthorized:  {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrTokenInvalid:  {Code: ErrTokenInvalid, Message: "Your session is invalid or has expired.", Status: http.StatusUnauthorized},
	ErrForbidden:     {Code: ErrForbidden, Message: "You are not allowed to do this.", Status: http.StatusForbidden},
	ErrSessionKicked: {Code: ErrSessionKicked, Message: "Too many open sessions. The oldest one was closed.", Status: http.StatusConflict},

	// 5xxx
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageUnavailable: {Code: ErrStorageUnavailable, Message: "Storage is temporarily unavailable.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed:  {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again.", Status: http.StatusInternalServerError},
	ErrFeatureDisabled:    {Code: ErrFeatureDisabled, Message: "This feature is not available.", Status: http.StatusServiceUnavailable},
}
