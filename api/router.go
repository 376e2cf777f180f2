package api

import "net/http"

// NewRouter builds the starter's HTTP mux, matching the routes documented
// for the pool-manager-facing admission surface.
func NewRouter(h *FuzzerHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pools/{pool_id}/fuzzers", h.RunFuzzer)
	mux.HandleFunc("DELETE /api/v1/pools/{pool_id}/fuzzers/{fuzzer_id}", h.StopFuzzerPods)
	mux.HandleFunc("DELETE /api/v1/pools/{pool_id}/fuzzers", h.StopAllFuzzerPods)
	return mux
}
