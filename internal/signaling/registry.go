package signaling

// Role is the part a connection plays in a stream.
type Role string

const (
	RoleBroadcaster Role = "BROADCASTER"
	RoleViewer      Role = "VIEWER"
)

// AnonymousUserID is used for viewers that connected without a token.
const AnonymousUserID = "anonymous"

// ConnectionSession associates a connection handle with a stream.
type ConnectionSession struct {
	Handle   string `json:"handle"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	StreamID string `json:"stream_id"`
}

// Registry maps connection handles to their stream association.
// It is not safe for concurrent use; the Coordinator guards it.
type Registry struct {
	sessions map[string]ConnectionSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]ConnectionSession)}
}

// Register records (or replaces) the association for handle.
func (r *Registry) Register(handle, userID string, role Role, streamID string) {
	r.sessions[handle] = ConnectionSession{
		Handle:   handle,
		UserID:   userID,
		Role:     role,
		StreamID: streamID,
	}
}

// Unregister removes handle and returns what was stored for it.
func (r *Registry) Unregister(handle string) (ConnectionSession, bool) {
	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	return s, ok
}

// Lookup returns the association for handle.
func (r *Registry) Lookup(handle string) (ConnectionSession, bool) {
	s, ok := r.sessions[handle]
	return s, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.sessions)
}
