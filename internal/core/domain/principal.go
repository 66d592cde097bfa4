package domain

// Principal is the caller behind a bearer token.
type Principal struct {
	UserID string
	Admin  bool
}
