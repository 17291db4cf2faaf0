// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (roles, states, fingerprints), the error taxonomy,
// and contracts (interfaces) only.
package domain
