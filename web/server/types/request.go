package types

type contextKey int

// RequestRoleKey is the request context key under which the authenticated
// client's role is stored.
const RequestRoleKey contextKey = iota
