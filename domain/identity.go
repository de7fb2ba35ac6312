package domain

// Identity is the trusted triple produced by the verifier for one connection
// or request. It never changes for the life of a connection.
type Identity struct {
	UserID   string
	Username string
	Email    string
}
