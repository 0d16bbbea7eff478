package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/genecraft/genecraft/internal/params"
	"github.com/genecraft/genecraft/internal/stage"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeSubmissionError maps staging and validation failures to a 400
// with a caller-safe message
func writeSubmissionError(w http.ResponseWriter, err error, kind stage.FileKind) {
	var verr *params.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, stage.ErrDisallowedExtension):
		writeError(w, http.StatusBadRequest,
			"Unsupported file type. Allowed: "+strings.Join(stage.AllowedExtensions(kind), ", ")+".")
	case errors.Is(err, stage.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "The uploaded file exceeds the size limit.")
	case errors.Is(err, stage.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, "The uploaded file is empty.")
	case errors.Is(err, stage.ErrUploadNotFound):
		writeError(w, http.StatusBadRequest, "Upload expired or missing. Please upload again.")
	default:
		writeError(w, http.StatusInternalServerError, "The upload could not be processed.")
	}
}
