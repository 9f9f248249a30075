package httpx

import "net/http"

// Health reports liveness. Readiness of brokers and stores is observable
// through logs and metrics; this endpoint only says the process serves.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Data(w, r, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}
