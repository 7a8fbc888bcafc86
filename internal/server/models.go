package server

// HTTPError is the JSON error envelope returned by all endpoints.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest is the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest is the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a signed JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// DiscoverRequest starts a discovery session.
type DiscoverRequest struct {
	Query string `json:"query"`
}

// ScheduleRequest registers a query for periodic re-discovery.
type ScheduleRequest struct {
	Query    string `json:"query"`
	CronExpr string `json:"cron_expr"`
}

// DiscoverySummary is one row in the discovery list response.
type DiscoverySummary struct {
	ID             string `json:"id"`
	Query          string `json:"query"`
	Iterations     int    `json:"iterations"`
	TokensUsed     int64  `json:"tokens_used"`
	ProcessingMS   int64  `json:"processing_ms"`
	CandidateCount int    `json:"candidate_count"`
	CreatedAt      string `json:"created_at"`
}
