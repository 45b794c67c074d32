package daemon

// Credentials identify the user a session is derived for.
type Credentials struct {
	UserID string
}

// SystemCredentials is the fixed low-privilege identity every module session
// is impersonated as.
var SystemCredentials = Credentials{UserID: "system"}

// Session is the resource handle a module owns while it is started.
//
// The manager holds one root session and derives one session per module
// through Impersonate. Close must be safe to call more than once.
type Session interface {
	// UserID returns the identity the session acts as.
	UserID() string

	// Impersonate derives a new session acting as creds.
	Impersonate(creds Credentials) (Session, error)

	// Node returns the configuration node at an absolute path.
	Node(path string) (ConfigNode, error)

	// Close releases the session.
	Close() error
}

// ConfigNode is a read-only view of one node in the configuration tree.
type ConfigNode interface {
	Name() string
	Path() string

	// Property returns the raw property value and whether it is set.
	Property(name string) (any, bool)

	// String, Bool and Int return a typed property value, or def when the
	// property is absent or cannot be converted.
	String(name, def string) string
	Bool(name string, def bool) bool
	Int(name string, def int) int

	// Child returns the named child node.
	Child(name string) (ConfigNode, bool)

	// Children returns the child nodes in document order.
	Children() []ConfigNode
}
