// Package airthings provides a client for the Airthings consumer API.
// It handles the OAuth2 client-credentials token exchange, device listing,
// and latest-sample retrieval, with classified errors (transient, throttled,
// auth, permanent) so callers can drive retry and backoff decisions.
package airthings
