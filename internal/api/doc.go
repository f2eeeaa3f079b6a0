// Package api exposes the HTTP surface: public page serving on /p/ and the
// wildcard, plus the authenticated /v1 admin and batch endpoints.
package api
