/*
Package randx generates the random identifiers used by the realtime gateway and upload keys.
*/
package randx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConnectionID returns a new identifier for one websocket connection.
func ConnectionID() string {
	return "conn_" + uuid.NewString()
}

// EventID returns a new identifier for a realtime event envelope.
func EventID() string {
	return uuid.NewString()
}

// ObjectKey builds a storage key of the form folder/owner/<uuid><ext>.
// ext must include its leading dot and is lower-cased.
func ObjectKey(folder, owner, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", folder, owner, uuid.NewString(), strings.ToLower(ext))
}
