package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/classics-portal/backend"
	"github.com/rs/zerolog/log"
)

const (
	MessageMissingFields   = "参数不完整"
	MessageChallengeFailed = "Turnstile 校验失败"
	MessageUpstreamError   = "上游接口错误"

	maxSubmitBody = 64 << 10
)

type submitLineRequest struct {
	CFToken   string `json:"cfToken"`
	Line      string `json:"line"`
	Contrib   string `json:"contrib"`
	Time      string `json:"time"`
	Unsure    bool   `json:"unsure"`
	Sensitive bool   `json:"sensitive"`
}

func (r submitLineRequest) complete() bool {
	return r.CFToken != "" && r.Line != "" && r.Contrib != "" && r.Time != ""
}

// SubmitLineHandler verifies the Turnstile challenge and forwards the line to the
// classics API with the server's own credential. Submissions are never hidden.
func (s *Server) SubmitLineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := log.With().Str("request_id", RequestIDFromContext(ctx)).Logger()

		var req submitLineRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.complete() {
			writeError(w, http.StatusBadRequest, MessageMissingFields, nil)
			return
		}

		verdict, err := s.verifier.Verify(ctx, req.CFToken, s.clientIP(r))
		if err != nil {
			logger.Err(err).Msg("Turnstile verification unavailable")
			writeError(w, http.StatusBadGateway, MessageUpstreamError, nil)
			return
		}
		if !verdict.Success {
			logger.Info().Strs("error_codes", verdict.ErrorCodes).Msg("Turnstile challenge rejected")
			writeError(w, http.StatusBadRequest, MessageChallengeFailed, verdict.ErrorCodes)
			return
		}

		result, err := s.upstream.AppendLine(ctx, s.config.GetClassicsJWT(), backend.LineSubmission{
			Line:      req.Line,
			Contrib:   req.Contrib,
			Time:      req.Time,
			Unsure:    req.Unsure,
			Sensitive: req.Sensitive,
			Hidden:    false,
		})
		if err != nil {
			logger.Err(err).Msg("line/append unavailable")
			writeError(w, http.StatusBadGateway, MessageUpstreamError, nil)
			return
		}

		if result.Created() {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		message := result.StatusText
		if message == "" {
			message = MessageUpstreamError
		}
		logger.Warn().Int("status", result.StatusCode).Msg("line/append rejected submission")
		writeError(w, result.StatusCode, message, nil)
	}
}
