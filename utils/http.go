// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the service-to-service clients (auth, stats).
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
