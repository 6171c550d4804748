package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/audit"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/orchestrator"
	"github.com/temirov/auditgate/internal/verdict"
)

const (
	taskIDParameterConstant         = "taskId"
	statusQueryConstant             = "status"
	taskIDQueryConstant             = "taskId"
	pageQueryConstant               = "page"
	pageSizeQueryConstant           = "pageSize"
	fromQueryConstant               = "from"
	toQueryConstant                 = "to"
	contentTypeHeaderConstant       = "Content-Type"
	jsonContentTypeConstant         = "application/json"
	maximumRequestBodyBytesConstant = 1 << 20
	unknownStatusMessageConstant    = "unknown status filter"
	invalidNumberMessageConstant    = "query parameters page, pageSize, from and to must be integers"
	invalidBodyMessageConstant      = "request body must be a JSON audit request"
	requestServedLogMessageConstant = "http request served"
	responseWriteLogMessageConstant = "unable to write http response"
	logFieldMethodConstant          = "method"
	logFieldPathConstant            = "path"
	logFieldStatusCodeConstant      = "status_code"
	logFieldDurationConstant        = "duration"
	logFieldRequestIDConstant       = "request_id"
)

// AuditBackend is the slice of audit.Service the HTTP API needs.
type AuditBackend interface {
	RunAudit(executionContext context.Context, request audit.RunRequest) (evidence.AuditResult, error)
	Result(executionContext context.Context, taskID string) (verdict.StoredResult, error)
	History(executionContext context.Context, taskID string) ([]verdict.StoredResult, error)
	List(executionContext context.Context, filter verdict.Filter, page verdict.Page) (verdict.Listing, error)
	VerifyLedger(fromIndex int, toIndex int) (audit.LedgerReport, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string                `json:"error"`
	ErrorKind evidence.ErrorKind    `json:"errorKind,omitempty"`
	Result    *evidence.AuditResult `json:"result,omitempty"`
}

type handler struct {
	backend AuditBackend
	logger  *zap.Logger
}

// NewHandler builds the router:
//
//	GET  /healthz
//	GET  /audits                    ?status=&taskId=&page=&pageSize=
//	POST /audits                    audit.RunRequest body
//	GET  /audits/{taskId}           latest verdict
//	GET  /audits/{taskId}/history   every verdict, newest first
//	GET  /ledger/verify             ?from=&to=
func NewHandler(backend AuditBackend, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiHandler := &handler{backend: backend, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(apiHandler.logRequests)

	router.Get("/healthz", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
	router.Route("/audits", func(auditRouter chi.Router) {
		auditRouter.Get("/", apiHandler.listAudits)
		auditRouter.Post("/", apiHandler.runAudit)
		auditRouter.Get("/{taskId}", apiHandler.latestAudit)
		auditRouter.Get("/{taskId}/history", apiHandler.auditHistory)
	})
	router.Get("/ledger/verify", apiHandler.verifyLedger)
	return router
}

func (apiHandler *handler) listAudits(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	filter := verdict.Filter{TaskID: query.Get(taskIDQueryConstant)}
	if statusValue := query.Get(statusQueryConstant); len(statusValue) > 0 {
		status, known := evidence.ParseAuditStatus(statusValue)
		if !known {
			apiHandler.writeError(writer, http.StatusBadRequest, ErrorResponse{Error: unknownStatusMessageConstant})
			return
		}
		filter.Status = status
	}
	pageNumber, pageError := optionalInteger(query.Get(pageQueryConstant), 1)
	pageSize, sizeError := optionalInteger(query.Get(pageSizeQueryConstant), 0)
	if pageError != nil || sizeError != nil {
		apiHandler.writeError(writer, http.StatusBadRequest, ErrorResponse{Error: invalidNumberMessageConstant})
		return
	}

	listing, listError := apiHandler.backend.List(request.Context(), filter, verdict.Page{Number: pageNumber, Size: pageSize})
	if listError != nil {
		apiHandler.writeError(writer, http.StatusInternalServerError, ErrorResponse{Error: listError.Error()})
		return
	}
	apiHandler.writeJSON(writer, http.StatusOK, listing)
}

func (apiHandler *handler) runAudit(writer http.ResponseWriter, request *http.Request) {
	var runRequest audit.RunRequest
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maximumRequestBodyBytesConstant))
	decoder.UseNumber()
	if decodeError := decoder.Decode(&runRequest); decodeError != nil {
		apiHandler.writeError(writer, http.StatusBadRequest, ErrorResponse{Error: invalidBodyMessageConstant})
		return
	}
	runRequest.Claim = normalizeNumbers(runRequest.Claim)
	runRequest.WorkingState = normalizeNumbers(runRequest.WorkingState)

	result, runError := apiHandler.backend.RunAudit(request.Context(), runRequest)
	if runError == nil {
		apiHandler.writeJSON(writer, http.StatusOK, result)
		return
	}

	response := ErrorResponse{Error: runError.Error(), ErrorKind: evidence.KindOf(runError)}
	if len(result.AuditID) > 0 {
		response.Result = &result
	}
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(runError, orchestrator.ErrInvalidRequest), errors.Is(runError, evidence.ErrClaimSchema):
		statusCode = http.StatusBadRequest
	case errors.Is(runError, evidence.ErrAuditDeadlineExceeded):
		statusCode = http.StatusGatewayTimeout
	case errors.Is(runError, evidence.ErrChainIntegrity):
		statusCode = http.StatusConflict
	}
	apiHandler.writeError(writer, statusCode, response)
}

func (apiHandler *handler) latestAudit(writer http.ResponseWriter, request *http.Request) {
	stored, getError := apiHandler.backend.Result(request.Context(), chi.URLParam(request, taskIDParameterConstant))
	if getError != nil {
		apiHandler.writeLookupError(writer, getError)
		return
	}
	apiHandler.writeJSON(writer, http.StatusOK, stored)
}

func (apiHandler *handler) auditHistory(writer http.ResponseWriter, request *http.Request) {
	history, historyError := apiHandler.backend.History(request.Context(), chi.URLParam(request, taskIDParameterConstant))
	if historyError != nil {
		apiHandler.writeLookupError(writer, historyError)
		return
	}
	if len(history) == 0 {
		apiHandler.writeLookupError(writer, verdict.ErrResultNotFound)
		return
	}
	apiHandler.writeJSON(writer, http.StatusOK, history)
}

func (apiHandler *handler) verifyLedger(writer http.ResponseWriter, request *http.Request) {
	fromIndex, fromError := optionalInteger(request.URL.Query().Get(fromQueryConstant), -1)
	toIndex, toError := optionalInteger(request.URL.Query().Get(toQueryConstant), -1)
	if fromError != nil || toError != nil {
		apiHandler.writeError(writer, http.StatusBadRequest, ErrorResponse{Error: invalidNumberMessageConstant})
		return
	}
	report, verifyError := apiHandler.backend.VerifyLedger(fromIndex, toIndex)
	if verifyError != nil {
		apiHandler.writeError(writer, http.StatusBadRequest, ErrorResponse{Error: verifyError.Error()})
		return
	}
	apiHandler.writeJSON(writer, http.StatusOK, report)
}

func (apiHandler *handler) writeLookupError(writer http.ResponseWriter, lookupError error) {
	if errors.Is(lookupError, verdict.ErrResultNotFound) {
		apiHandler.writeError(writer, http.StatusNotFound, ErrorResponse{Error: lookupError.Error()})
		return
	}
	apiHandler.writeError(writer, http.StatusInternalServerError, ErrorResponse{Error: lookupError.Error()})
}

func (apiHandler *handler) writeError(writer http.ResponseWriter, statusCode int, response ErrorResponse) {
	apiHandler.writeJSON(writer, statusCode, response)
}

func (apiHandler *handler) writeJSON(writer http.ResponseWriter, statusCode int, value any) {
	writer.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	writer.WriteHeader(statusCode)
	if encodeError := json.NewEncoder(writer).Encode(value); encodeError != nil {
		apiHandler.logger.Warn(responseWriteLogMessageConstant, zap.Error(encodeError))
	}
}

func (apiHandler *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		startedAt := time.Now()
		wrappedWriter := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		next.ServeHTTP(wrappedWriter, request)
		apiHandler.logger.Info(requestServedLogMessageConstant,
			zap.String(logFieldMethodConstant, request.Method),
			zap.String(logFieldPathConstant, request.URL.Path),
			zap.Int(logFieldStatusCodeConstant, wrappedWriter.Status()),
			zap.Duration(logFieldDurationConstant, time.Since(startedAt)),
			zap.String(logFieldRequestIDConstant, middleware.GetReqID(request.Context())),
		)
	})
}

func optionalInteger(value string, fallback int) (int, error) {
	if len(value) == 0 {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

// normalizeNumbers turns json.Number values into int64 for whole numbers and
// float64 otherwise, matching claim file parsing.
func normalizeNumbers(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	normalized := make(map[string]any, len(values))
	for key, value := range values {
		normalized[key] = normalizeNumber(value)
	}
	return normalized
}

func normalizeNumber(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if integerValue, integerError := typed.Int64(); integerError == nil {
			return integerValue
		}
		if floatValue, floatError := typed.Float64(); floatError == nil {
			return floatValue
		}
		return typed.String()
	case []any:
		converted := make([]any, len(typed))
		for index, element := range typed {
			converted[index] = normalizeNumber(element)
		}
		return converted
	case map[string]any:
		return normalizeNumbers(typed)
	default:
		return value
	}
}
