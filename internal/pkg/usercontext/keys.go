package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	KeyUserID        = "user_id"
	KeyUsername      = "username"
	KeyEmail         = "email"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
)
