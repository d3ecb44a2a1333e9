package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/weights"
)

// Request headers carrying change attribution.
const (
	OperatorHeader     = "X-Operator"
	ChangeSourceHeader = "X-Change-Source"
)

// DefaultOperator is recorded when a request names no operator.
const DefaultOperator = "api"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && isWeightField(te.Field) {
			return fmt.Errorf("%w: %s must be a non-negative integer, got %s", keypool.ErrInvalidWeight, te.Field, te.Value)
		}
		return badRequest("body", "%v", err)
	}
	return nil
}

// isWeightField reports whether a decode error path names a weight,
// either at the top level or inside a list such as batch updates.
func isWeightField(field string) bool {
	return field == "weight" || strings.HasSuffix(field, ".weight")
}

// actor reads change attribution from the request headers.
func actor(r *http.Request) (weights.Actor, error) {
	a := weights.Actor{Operator: r.Header.Get(OperatorHeader), Source: audit.SourceAPI}
	if a.Operator == "" {
		a.Operator = DefaultOperator
	}
	switch src := r.Header.Get(ChangeSourceHeader); src {
	case "":
	case string(audit.SourceWebUI), string(audit.SourceAPI):
		a.Source = audit.Source(src)
	default:
		return a, badRequest(ChangeSourceHeader, "must be WebUI or API, got %q", src)
	}
	return a, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest(name, "must be a boolean")
	}
	return b, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return n, nil
}
