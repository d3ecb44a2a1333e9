package server

import (
	"fmt"
	"net/http"
	"time"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/export"
)

// auditQuery builds a query from key_id, operation_type, source, operator,
// start, end, limit and offset parameters. Times are RFC 3339.
func auditQuery(r *http.Request) (*audit.Query, error) {
	v := r.URL.Query()
	q := &audit.Query{
		KeyID:    v.Get("key_id"),
		Operator: v.Get("operator"),
	}
	if s := v.Get("operation_type"); s != "" {
		op, err := audit.ParseOperationType(s)
		if err != nil {
			return nil, badRequest("operation_type", "%v", err)
		}
		q.OperationType = op
	}
	if s := v.Get("source"); s != "" {
		src, err := audit.ParseSource(s)
		if err != nil {
			return nil, badRequest("source", "%v", err)
		}
		q.Source = src
	}
	var err error
	if q.StartTime, err = queryTime(r, "start"); err != nil {
		return nil, err
	}
	if q.EndTime, err = queryTime(r, "end"); err != nil {
		return nil, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		return nil, err
	}
	return q, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, badRequest(name, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q, err := auditQuery(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	page, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var from time.Time
	if since != nil {
		from = *since
	}
	stats, err := s.deps.Audit.Statistics(r.Context(), from)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAuditTrend(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var from time.Time
	if since != nil {
		from = *since
	}
	id := r.PathValue("id")
	points, err := s.deps.Audit.Trend(r.Context(), id, from)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key_id": id, "points": points})
}

// handleAuditExport streams every record matching the query filters as a
// JSON or CSV attachment. Pagination parameters are ignored.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	exp, err := export.ForFormat(format)
	if err != nil {
		WriteError(w, r, badRequest("format", "%v", err))
		return
	}
	q, err := auditQuery(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	q.Limit, q.Offset = 0, 0

	records, err := s.deps.Audit.All(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	name := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), exp.Extension())
	w.Header().Set("Content-Type", exp.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := exp.Export(r.Context(), records, w); err != nil {
		s.logger.ErrorContext(r.Context(), "audit export failed",
			"format", format,
			"record_count", len(records),
			"error", err,
		)
	}
}
