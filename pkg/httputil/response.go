// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Envelope wraps every successful response body
type Envelope struct {
	Metadata interface{} `json:"metadata"`
	Message  string      `json:"message"`
}

// ErrorBody carries the message of a failed request
type ErrorBody struct {
	Message string `json:"message"`
}

// ErrorEnvelope wraps every error response body
type ErrorEnvelope struct {
	Errors ErrorBody `json:"errors"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteEnvelope writes a success envelope
func WriteEnvelope(w http.ResponseWriter, status int, metadata interface{}, message string) error {
	return WriteJSON(w, status, Envelope{Metadata: metadata, Message: message})
}

// WriteSuccess writes a 200 success envelope
func WriteSuccess(w http.ResponseWriter, metadata interface{}, message string) error {
	return WriteEnvelope(w, http.StatusOK, metadata, message)
}

// WriteCreated writes a 201 success envelope
func WriteCreated(w http.ResponseWriter, metadata interface{}, message string) error {
	return WriteEnvelope(w, http.StatusCreated, metadata, message)
}

// WriteError writes an error envelope from err
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes an error envelope with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorEnvelope{Errors: ErrorBody{Message: message}})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a 500 without exposing err to the caller
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}
