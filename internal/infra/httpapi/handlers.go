package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
	"judgebox/internal/ports"
)

// Request bounds accepted by POST /execute. Values inside the bounds are
// still capped at the operator maxima by the evaluator.
const (
	minTimeoutSeconds     = 1
	maxTimeoutSeconds     = 30
	defaultTimeoutSeconds = 10
	minMemoryMB           = 64
	maxMemoryMB           = 512
	defaultMemoryMB       = 256

	maxBodyBytes = 4 << 20
)

type testcaseRequest struct {
	Input          *string `json:"input"`
	ExpectedOutput *string `json:"expected_output"`
}

type executeRequest struct {
	Code           *string           `json:"code"`
	Language       string            `json:"language"`
	Testcases      []testcaseRequest `json:"testcases"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
	MemoryLimitMB  *int              `json:"memory_limit_mb"`
}

type executeResponse struct {
	Results      []codec.ResultEnvelope `json:"results"`
	Summary      codec.SummaryEnvelope  `json:"summary"`
	RuntimeError *string                `json:"runtime_error"`
}

// fieldError mirrors one entry of a validation error list.
type fieldError struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

type handlers struct {
	evaluator ports.Evaluator
	logger    *zerolog.Logger
}

func (h *handlers) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if problems := req.validate(h.evaluator.Languages()); len(problems) > 0 {
		writeDetail(w, http.StatusUnprocessableEntity, problems)
		return
	}

	submission := req.toSubmission(uuid.NewString())
	evaluation, err := h.evaluator.Evaluate(r.Context(), submission)
	if err != nil {
		if errors.Is(err, execution.ErrUnsupportedLanguage) {
			writeDetail(w, http.StatusUnprocessableEntity, []fieldError{{Loc: []any{"body", "language"}, Msg: err.Error()}})
			return
		}
		h.logger.Error().Err(err).Str("submission", submission.ID).Msg("evaluation failed")
		writeDetail(w, http.StatusInternalServerError, "Evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Results:      codec.NewResultEnvelopes(evaluation.Results),
		Summary:      codec.NewSummaryEnvelope(evaluation.Summary),
		RuntimeError: optional(evaluation.RuntimeError),
	})
}

func (req executeRequest) validate(languages []execution.Language) []fieldError {
	var problems []fieldError
	add := func(msg string, loc ...any) {
		problems = append(problems, fieldError{Loc: append([]any{"body"}, loc...), Msg: msg})
	}

	if req.Code == nil {
		add("field required", "code")
	}
	if !slices.Contains(languages, execution.Language(req.Language)) {
		add(fmt.Sprintf("language must be one of %v", languages), "language")
	}
	if len(req.Testcases) == 0 {
		add("at least one testcase is required", "testcases")
	}
	for i, tc := range req.Testcases {
		if tc.Input == nil {
			add("field required", "testcases", i, "input")
		}
		if tc.ExpectedOutput == nil {
			add("field required", "testcases", i, "expected_output")
		}
	}
	if v := req.TimeoutSeconds; v != nil && (*v < minTimeoutSeconds || *v > maxTimeoutSeconds) {
		add(fmt.Sprintf("timeout_seconds must be between %d and %d", minTimeoutSeconds, maxTimeoutSeconds), "timeout_seconds")
	}
	if v := req.MemoryLimitMB; v != nil && (*v < minMemoryMB || *v > maxMemoryMB) {
		add(fmt.Sprintf("memory_limit_mb must be between %d and %d", minMemoryMB, maxMemoryMB), "memory_limit_mb")
	}
	return problems
}

// toSubmission assumes validate passed.
func (req executeRequest) toSubmission(id string) execution.Submission {
	timeout := defaultTimeoutSeconds
	if req.TimeoutSeconds != nil {
		timeout = *req.TimeoutSeconds
	}
	memory := defaultMemoryMB
	if req.MemoryLimitMB != nil {
		memory = *req.MemoryLimitMB
	}

	tests := make([]execution.TestCase, len(req.Testcases))
	for i, tc := range req.Testcases {
		tests[i] = execution.TestCase{Input: *tc.Input, ExpectedOutput: *tc.ExpectedOutput}
	}

	return execution.Submission{
		ID:       id,
		Language: execution.Language(req.Language),
		Source:   *req.Code,
		Limits: execution.Limits{
			Timeout:  time.Duration(timeout) * time.Second,
			MemoryMB: int64(memory),
		},
		Tests: tests,
	}
}

type languagesResponse struct {
	Languages []execution.Language `json:"languages"`
}

func (h *handlers) languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{Languages: h.evaluator.Languages()})
}

type healthResponse struct {
	Status     string `json:"status"`
	Containers bool   `json:"containers"`
	Error      string `json:"error,omitempty"`
}

// healthz stays 200 while containers are down: evaluation continues on the
// local fallback, which the body reports as degraded.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.evaluator.ContainerStatus(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Containers: true})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
