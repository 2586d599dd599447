package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/DocFinder/internal/models"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "text/xml"

	// fallbackBody is served when a response envelope cannot be encoded.
	fallbackBody = `{"status":"error","message":"` + msgInternal + `"}`
	emptyTwiML   = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// writeJSONResponse encodes response before touching headers so an encoding
// failure can still become a clean 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err, "status", statusCode)
		data, statusCode = []byte(fallbackBody), http.StatusInternalServerError
	}
	writeBody(w, statusCode, contentTypeJSON, data)
}

// writeError writes the error envelope with a user-facing message.
func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSONResponse(w, statusCode, models.Error(msg))
}

// writeTwiML acknowledges a Twilio webhook without an inline reply; replies
// go out through the REST API instead.
func writeTwiML(w http.ResponseWriter) {
	writeBody(w, http.StatusOK, contentTypeXML, []byte(emptyTwiML))
}

func writeBody(w http.ResponseWriter, statusCode int, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeBody: write failed", "error", err, "status", statusCode)
	}
}
