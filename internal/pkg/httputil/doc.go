// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers in api/ and tracking/ use these helpers instead of writing raw
// http.ResponseWriter calls, so JSON formatting, error envelopes and CSV
// downloads stay consistent across endpoints.
package httputil
