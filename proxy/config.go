package proxy

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the AI coach chat function the relay forwards to.
	UpstreamURL string

	// UpstreamAPIKey is sent upstream as a bearer token when set.
	UpstreamAPIKey string

	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string
}
