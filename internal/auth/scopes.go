package auth

// Known OAuth scopes used by the sync service API.
const (
	ScopeSyncRun  = "sync:run"
	ScopeSyncRead = "sync:read"
)
