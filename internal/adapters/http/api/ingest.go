package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/okian/gather/internal/adapters/source"
	service "github.com/okian/gather/internal/app"
	"github.com/okian/gather/internal/domain/model"
	"github.com/tidwall/gjson"
)

// IngestHandler handles push ingestion and on-demand pull runs.
type IngestHandler struct {
	deps         Dependencies
	maxBodyBytes int64
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps Dependencies, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandlePush handles POST /ingest?source=<tag>&tz=<zone>. The body is one raw
// record or an array of them, in the shape of the named source.
func (h *IngestHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	tag := model.SourceTag(r.URL.Query().Get("source"))
	if tag == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing source")))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrPayloadTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	raws, err := splitRecords(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	rep, err := h.deps.IngestPayloads(r.Context(), tag, r.URL.Query().Get("tz"), raws)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleRun handles POST /ingest/run.
func (h *IngestHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_run"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	rep, err := h.deps.Run(r.Context(), service.TriggerManual)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// splitRecords accepts a JSON object or an array of objects.
func splitRecords(body []byte) ([]source.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("body is not valid JSON")
	}
	res := gjson.ParseBytes(body)
	switch {
	case res.IsObject():
		return []source.RawRecord{source.RawRecord(res.Raw)}, nil
	case res.IsArray():
		var out []source.RawRecord
		var bad bool
		res.ForEach(func(_, v gjson.Result) bool {
			if !v.IsObject() {
				bad = true
				return false
			}
			out = append(out, source.RawRecord(v.Raw))
			return true
		})
		if bad {
			return nil, errors.New("array items must be objects")
		}
		return out, nil
	default:
		return nil, errors.New("body must be an object or an array of objects")
	}
}
