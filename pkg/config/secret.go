package config

// Secret holds a credential such as a database password. Its String,
// GoString and MarshalText methods return a placeholder, so the value does
// not leak through logs, %v formatting or serialized configuration. Use
// Value to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret.
func (s Secret) Value() string {
	return string(s)
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
