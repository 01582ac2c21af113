package credentials

// Store defines durable persistence of the single active Credential.
type Store interface {
	// Load re-reads the backing store. A missing or unreadable credential
	// yields (nil, false) and is never reported as an error.
	Load() (*Credential, bool)

	// Save replaces the stored credential as a whole.
	Save(cred *Credential) error

	// Name returns the name of the store for logging
	Name() string
}
