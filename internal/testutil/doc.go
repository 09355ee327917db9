// Package testutil contains helper builders and fixtures used across tests to
// reduce boilerplate when constructing core model objects (sessions, cases,
// turns) and asserting behaviors. These helpers are intentionally minimal.
// They are not intended for production usage.
package testutil
