package httpx

import "github.com/google/uuid"

// genID returns the X-Request-ID for a request that has none.
func genID() string {
	return uuid.NewString()
}
