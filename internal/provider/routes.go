package provider

// RegisterDefaultRoutes installs the routing table from logical model ids to
// concrete backend model names. Ids for models that are not generally
// available yet are bound to shipped equivalents so client requests never
// break on a vendor's release schedule.
func RegisterDefaultRoutes(r *Registry) {
	r.Route("gpt-4o", "openai", "gpt-4o")
	r.Route("gpt-4o-mini", "openai", "gpt-4o-mini")
	// Not generally available; serve with the closest shipped model.
	r.Route("gpt-5", "openai", "gpt-4o")

	r.Route("claude-3-5-sonnet", "anthropic", "claude-3-5-sonnet-20241022")
	r.Route("claude-3-haiku", "anthropic", "claude-3-haiku-20240307")
	r.Route("claude-4", "anthropic", "claude-3-5-sonnet-20241022")

	r.Route("gemini-pro", "gemini", "gemini-1.5-pro")
	r.Route("gemini-flash", "gemini", "gemini-1.5-flash")

	// Ark fixes its model at construction time.
	r.Route("doubao", "ark", "")
}
