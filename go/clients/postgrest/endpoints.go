package postgrest

const (
	// RestPath is where a Supabase project exposes PostgREST.
	RestPath = "/rest/v1/"

	// Headers
	APIKeyHeader         = "apikey"
	AuthorizationHeader  = "Authorization"
	PreferHeader         = "Prefer"
	JsonHeader           = "Content-Type"
	AcceptHeader         = "Accept"
	JsonContentType      = "application/json"
	ReturnRepresentation = "return=representation"

	// Query parameters
	orderParam = "order"
	limitParam = "limit"
)
