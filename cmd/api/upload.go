package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"mailcleaner/internal/models"
)

const (
	maxUpload   = 10 << 20
	maxBatchLen = 1000
)

var errBatchTooLarge = errors.New("batch too large")

type batchRequest struct {
	Emails []string `json:"emails"`
	Deep   bool     `json:"deep"`
}

// BatchResponse is what a batch validation sends back.
type BatchResponse struct {
	Total   int                        `json:"total"`
	Valid   int                        `json:"valid"`
	Invalid int                        `json:"invalid"`
	Results []*models.ValidationResult `json:"results"`
}

// validateBatch accepts either a multipart CSV upload (field "file", emails
// in the first column) or a JSON body {"emails": [...], "deep": bool}.
func (s *server) validateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = readCSVUpload(r)
	} else {
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpload)).Decode(&req)
	}
	if len(req.Emails) > maxBatchLen || errors.Is(err, errBatchTooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, errBatchTooLarge.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Emails) == 0 {
		s.writeError(w, http.StatusBadRequest, "no emails supplied")
		return
	}

	results := s.app.Validator.ValidateBatch(r.Context(), req.Emails, req.Deep)
	resp := BatchResponse{Total: len(results), Results: results}
	for _, res := range results {
		if res.IsValid {
			resp.Valid++
		} else {
			resp.Invalid++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func readCSVUpload(r *http.Request) (batchRequest, error) {
	var req batchRequest
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return req, errors.New("file too large or malformed")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return req, errors.New("missing 'file' parameter in form data")
	}
	defer file.Close()

	req.Deep = r.FormValue("deep") == "true"
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return req, errors.New("invalid CSV format")
		}
		if len(record) == 0 {
			continue
		}
		email := strings.TrimSpace(record[0])
		// Skip a header row and blanks.
		if email == "" || strings.EqualFold(email, "email") {
			continue
		}
		req.Emails = append(req.Emails, email)
		if len(req.Emails) > maxBatchLen {
			return req, errBatchTooLarge
		}
	}
	return req, nil
}
