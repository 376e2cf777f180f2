// Package api exposes the starter's HTTP admission surface: run a fuzzer
// pod, and tear down the pods belonging to a fuzzer or an entire pool.
package api

import (
	"encoding/json"
	"net/http"
)

// Error codes, numbered to match the scheduler's existing error_codes.py
// table so a single client can interpret either service's responses.
const (
	errNoError         = 0
	errInternal        = 1
	errPoolNotFound    = 2
	errPoolTooSmall    = 3
	errPoolNoResources = 4
	errPoolLocked      = 5
)

var errorMessages = map[int]string{
	errNoError:         "No error. Operation successful",
	errInternal:        "Internal error occurred. Please try again later or contact support",
	errPoolNotFound:    "Target resource pool was not found",
	errPoolTooSmall:    "Target resource pool capacity is too small",
	errPoolNoResources: "Unable to run fuzzer: not enough CPU/RAM in target resource pool",
	errPoolLocked:      "Target resource pool is locked. Please try again later, when it will be unlocked",
}

// responseOK is the success envelope for every endpoint in this package.
type responseOK struct {
	Status string `json:"status"`
}

// errorBody carries one error's numeric code and human message.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// responseFailed is the failure envelope: {status:"FAILED", error:{...}}.
type responseFailed struct {
	Status string    `json:"status"`
	Error  errorBody `json:"error"`
}

func writeOK(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(responseOK{Status: "OK"})
}

func writeError(w http.ResponseWriter, status, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(responseFailed{
		Status: "FAILED",
		Error:  errorBody{Code: code, Message: errorMessages[code]},
	})
}
