package server

import (
	"bytes"
	"io"
	"net/http"
	"slices"

	"gopkg.in/yaml.v3"

	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/telemetry/logging"
	"mercator-hq/keyweave/pkg/weights"
)

const maskedSecret = "***"

// ConfigResponse is returned by PUT /api/config.
type ConfigResponse struct {
	Config   map[string]any          `json:"config"`
	Mutation *weights.MutationResult `json:"mutation"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Current()
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	doc, err := configDocument(cfg)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePutConfig overlays the request document (YAML or JSON, using the
// configuration file's field names) on the current configuration and
// re-initializes the pool from it. Keys that omit their credential, or
// send back the masked form, keep the stored one.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, badRequest("body", "%v", err))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		WriteError(w, r, badRequest("body", "configuration document is required"))
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	current := s.deps.Config.Current()
	if current == nil {
		current = config.NewDefaultConfig()
	}
	next, err := mergeConfig(current, body)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := config.Validate(next); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := s.deps.Weights.ApplyConfig(r.Context(), a, next)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	s.deps.Config.Store(next)

	doc, err := configDocument(next)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "configuration replaced via API",
		"operator", a.Operator,
		"keys", len(next.Keys),
		"changes", len(res.Records),
	)
	writeJSON(w, http.StatusOK, ConfigResponse{Config: doc, Mutation: res})
}

// configDocument renders cfg with secrets masked, keyed by the
// configuration file's field names.
func configDocument(cfg *config.Config) (map[string]any, error) {
	masked := *cfg
	masked.Keys = slices.Clone(cfg.Keys)
	for i := range masked.Keys {
		masked.Keys[i].Credential = logging.RedactAPIKey(masked.Keys[i].Credential)
	}
	if masked.RateLimit.Redis.Password != "" {
		masked.RateLimit.Redis.Password = maskedSecret
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func mergeConfig(current *config.Config, body []byte) (*config.Config, error) {
	data, err := yaml.Marshal(current)
	if err != nil {
		return nil, err
	}
	next, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)
	if err := dec.Decode(next); err != nil {
		return nil, badRequest("body", "%v", err)
	}
	config.ApplyDefaults(next)

	credentials := make(map[string]string, len(current.Keys))
	for _, k := range current.Keys {
		credentials[k.ID] = k.Credential
	}
	for i, k := range next.Keys {
		old, ok := credentials[k.ID]
		if ok && (k.Credential == "" || k.Credential == logging.RedactAPIKey(old)) {
			next.Keys[i].Credential = old
		}
	}
	if next.RateLimit.Redis.Password == maskedSecret {
		next.RateLimit.Redis.Password = current.RateLimit.Redis.Password
	}
	return next, nil
}
