// Package apiresponses provides standardized HTTP API response helpers
// (error, not-found, conflict, etc.) shared by the API controllers.
package apiresponses
