// Package pep425 implements the PEP 425 compatibility-tag triple used by
// wheel filenames and the WHEEL file's Tag: field.
//
// https://www.python.org/dev/peps/pep-0425/
package pep425

// Tag is a (possibly compressed, dot-separated) Python/ABI/Platform
// compatibility tag triple, as embedded in a wheel filename or a WHEEL
// file's Tag: field.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// WithPython returns a copy of t with its (possibly compressed) Python
// component replaced by python, leaving ABI and Platform untouched.
func (t Tag) WithPython(python string) Tag {
	t.Python = python
	return t
}

// WithABI returns a copy of t with its ABI component replaced.
func (t Tag) WithABI(abi string) Tag {
	t.ABI = abi
	return t
}

// WithPlatform returns a copy of t with its Platform component replaced.
func (t Tag) WithPlatform(platform string) Tag {
	t.Platform = platform
	return t
}
