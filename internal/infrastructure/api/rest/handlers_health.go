package rest

import "net/http"

// handleHealth implements GET /health?deep=<bool> (spec §6.1). A shallow
// check always reports healthy (the process is serving); a deep check
// would additionally probe the document store, vector store, and prompt
// registry -- those collaborators are not yet wired into this server, so a
// deep probe currently degrades to the shallow result.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deep := r.URL.Query().Get("deep") == "true"
	body := map[string]any{"status": "healthy"}
	if deep {
		body["dependencies"] = map[string]string{}
	}
	writeJSON(w, http.StatusOK, body)
}
