package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/docker/go-units"
	"github.com/ethpandaops/dperf/pkg/api/store"
	"github.com/ethpandaops/dperf/pkg/run"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// notANumber is reported for run ids that do not parse as integers.
const notANumber = "NaN"

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w)
}

// handleSubmitRun validates and stores a run posted by a client.
func (s *server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.rejectRun(w, rejectDecode, err)

		return
	}

	candidate, err := run.Decode(body)
	if err != nil {
		s.rejectRun(w, rejectDecode, err)

		return
	}

	if err := run.Validate(candidate, s.validateOpts); err != nil {
		s.rejectRun(w, rejectValidation, err)

		return
	}

	var doc bytes.Buffer
	if err := json.Compact(&doc, body); err != nil {
		s.rejectRun(w, rejectDecode, err)

		return
	}

	rec := candidate.Run()

	if err := s.store.InsertRun(r.Context(), rec, doc.Bytes()); err != nil {
		s.metrics.storeErrors.WithLabelValues(opInsert).Inc()
		s.log.WithError(err).
			WithField("run_id", rec.RunID).
			Warn("Failed to insert run")

		writeError(w, msgInsertFailed)

		return
	}

	s.metrics.runsIngested.Inc()
	s.log.WithFields(logrus.Fields{
		"size":    units.HumanSize(float64(doc.Len())),
		"samples": len(rec.Samples),
	}).Infof("Saved %s run %d", rec.Name, rec.RunID)

	if s.archiver != nil {
		if err := s.archiver.Archive(
			r.Context(), rec.Name, rec.RunID, doc.Bytes(),
		); err != nil {
			s.metrics.archiveErrors.Inc()
			s.log.WithError(err).
				WithField("run_id", rec.RunID).
				Warn("Failed to archive run")
		}
	}

	writeOK(w)
}

// rejectRun answers a submission that never reached the store.
func (s *server) rejectRun(w http.ResponseWriter, reason string, err error) {
	s.metrics.runsRejected.WithLabelValues(reason).Inc()
	s.log.WithError(err).
		WithField("reason", reason).
		Debug("Rejected run")

	writeError(w, msgInvalidRun)
}

// handleListRuns returns run summaries grouped by run name, newest first
// within each group.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListSummaries(r.Context())
	if err != nil {
		s.metrics.storeErrors.WithLabelValues(opList).Inc()
		s.log.WithError(err).Warn("Failed to list runs")

		writeError(w, msgListFailed)

		return
	}

	writeJSON(w, http.StatusOK, run.GroupByName(summaries))
}

// handleGetRun returns the stored document for a single run id.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, text, ok := parseRunID(chi.URLParam(r, "runId"))
	if !ok {
		writeError(w, fmt.Sprintf(msgRunNotFound, text))

		return
	}

	doc, err := s.store.GetRunByID(r.Context(), runID)
	if err != nil {
		if !errors.Is(err, store.ErrRunNotFound) {
			s.metrics.storeErrors.WithLabelValues(opGet).Inc()
			s.log.WithError(err).
				WithField("run_id", runID).
				Warn("Failed to get run")
		}

		writeError(w, fmt.Sprintf(msgRunNotFound, text))

		return
	}

	writeRawJSON(w, http.StatusOK, doc)
}

// parseRunID reads the leading integer of raw the way JavaScript parseInt
// does: leading whitespace is skipped, a sign and a "0x" prefix are
// accepted, and parsing stops at the first character that is not a digit.
// text is the id as reported to clients, "NaN" when no digit was read.
// ok is false when there is nothing to look up.
func parseRunID(raw string) (id int64, text string, ok bool) {
	rest := strings.TrimLeftFunc(raw, unicode.IsSpace)

	sign := ""
	if rest != "" && (rest[0] == '+' || rest[0] == '-') {
		if rest[0] == '-' {
			sign = "-"
		}

		rest = rest[1:]
	}

	base := 10
	if len(rest) >= 2 && rest[0] == '0' && (rest[1] == 'x' || rest[1] == 'X') {
		base = 16
		rest = rest[2:]
	}

	end := 0
	for end < len(rest) && isDigit(rest[end], base) {
		end++
	}

	if end == 0 {
		return 0, notANumber, false
	}

	id, err := strconv.ParseInt(sign+rest[:end], base, 64)
	if err != nil {
		// Out of int64 range: no stored run can match.
		return 0, sign + rest[:end], false
	}

	return id, strconv.FormatInt(id, 10), true
}

func isDigit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16:
		return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	default:
		return false
	}
}
