package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/evaluation"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/scorer"
)

// maxFilesPerRequest bounds a multipart request body at this many uploads.
const maxFilesPerRequest = 10

// --- Scoring ---

type scoreRequest struct {
	Type    string             `json:"type"`
	Metrics map[string]float64 `json:"metrics"`
}

type scoreResponse struct {
	Type       model.CertificationType `json:"type,omitempty"`
	ConfigHash string                  `json:"config_hash"`
	scorer.Explanation
}

// handleScore previews a metric score without touching any evaluation. An
// empty type uses the generic product table.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.score"
	var req scoreRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp := scoreResponse{ConfigHash: scorer.ConfigHash(s.cat)}
	if strings.TrimSpace(req.Type) == "" {
		resp.Explanation = s.scorer.ExplainProduct(req.Metrics)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	typ := model.ParseCertificationType(req.Type)
	if !typ.Valid() {
		writeError(w, r, certerr.Validation(op, "unknown certification type %q", req.Type))
		return
	}
	resp.Type = typ
	resp.Explanation = s.scorer.Explain(typ, req.Metrics)
	writeJSON(w, http.StatusOK, resp)
}

// --- Owners ---

type createOwnerRequest struct {
	Kind model.OwnerKind `json:"kind"`
	Name string          `json:"name"`
}

func (s *Server) handleCreateOwner(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_owner"
	var req createOwnerRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case !req.Kind.Valid():
		writeError(w, r, certerr.Validation(op, "kind must be vendor or product"))
		return
	case name == "":
		writeError(w, r, certerr.Validation(op, "name is required"))
		return
	}

	owner := &model.Owner{
		ID:        s.newID(),
		Kind:      req.Kind,
		Name:      name,
		Tier:      s.cat.BaseTier(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateOwner(r.Context(), owner); err != nil {
		writeError(w, r, certerr.Internal(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, owner)
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := s.store.GetOwner(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, r, certerr.Internal("api.get_owner", err))
		return
	}
	writeJSON(w, http.StatusOK, owner)
}

func (s *Server) handleOwnerScore(w http.ResponseWriter, r *http.Request) {
	agg, err := s.issuer.OwnerScore(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type recomputationResponse struct {
	OwnerID      string                `json:"owner_id"`
	Aggregate    model.AggregateScore  `json:"aggregate"`
	PreviousTier string                `json:"previous_tier"`
	Reclassified []model.Certification `json:"reclassified"`
}

func newRecomputationResponse(rc *certify.Recomputation) recomputationResponse {
	out := recomputationResponse{
		OwnerID:      rc.OwnerID,
		Aggregate:    rc.Aggregate,
		PreviousTier: rc.PreviousTier,
		Reclassified: rc.Reclassified,
	}
	if out.Reclassified == nil {
		out.Reclassified = []model.Certification{}
	}
	return out
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.Reviewer {
		writeError(w, r, certerr.Forbidden("api.recompute", "reviewer privilege required"))
		return
	}
	rc, err := s.issuer.Recompute(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecomputationResponse(rc))
}

func (s *Server) handleListCertifications(w http.ResponseWriter, r *http.Request) {
	marks, err := s.issuer.Certifications(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if marks == nil {
		marks = []model.Certification{}
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := s.evals.ListByOwner(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

// --- Evaluations ---

type createEvaluationRequest struct {
	OwnerID string `json:"owner_id"`
	Type    string `json:"type"`
}

// handleCreateEvaluation accepts JSON, or multipart form data with owner_id,
// type and any number of "documents" files.
func (s *Server) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_evaluation"
	var (
		req     createEvaluationRequest
		uploads []evaluation.Upload
	)
	if isMultipart(r) {
		form, err := s.parseMultipart(w, r, op)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.OwnerID = firstValue(form, "owner_id")
		req.Type = firstValue(form, "type")
		uploads, err = s.readUploads(op, form.File["documents"])
		if err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := s.evals.Create(r.Context(), actorFrom(r), evaluation.CreateRequest{
		OwnerID:   req.OwnerID,
		Type:      model.ParseCertificationType(req.Type),
		Documents: uploads,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	ev, err := s.evals.Get(r.Context(), chi.URLParam(r, "evalID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	const op = "api.attach_document"
	if !isMultipart(r) {
		writeError(w, r, certerr.Validation(op, "expected multipart/form-data with a file field"))
		return
	}
	form, err := s.parseMultipart(w, r, op)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uploads, err := s.readUploads(op, form.File["file"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(uploads) != 1 {
		writeError(w, r, certerr.Validation(op, "exactly one file is required"))
		return
	}

	doc, err := s.evals.AttachDocument(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"), uploads[0])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ev, err := s.evals.Submit(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type metricsRequest struct {
	Metrics map[string]float64 `json:"metrics"`
}

func (s *Server) handleRecordMetrics(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_metrics"
	var req metricsRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := s.evals.RecordMetrics(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"), req.Metrics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	ev, err := s.evals.StartReview(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type approveRequest struct {
	ReviewScore *int   `json:"review_score"`
	Notes       string `json:"notes"`
}

type issuanceResponse struct {
	Certification model.Certification  `json:"certification"`
	Evaluation    model.Evaluation     `json:"evaluation"`
	Aggregate     model.AggregateScore `json:"aggregate"`
	PreviousTier  string               `json:"previous_tier"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	const op = "api.approve"
	var req approveRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ReviewScore == nil {
		writeError(w, r, certerr.Validation(op, "review_score is required"))
		return
	}
	out, err := s.evals.Approve(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"), *req.ReviewScore, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issuanceResponse{
		Certification: out.Certification,
		Evaluation:    out.Evaluation,
		Aggregate:     out.Aggregate,
		PreviousTier:  out.PreviousTier,
	})
}

type rejectRequest struct {
	Feedback string `json:"feedback"`
	Notes    string `json:"notes"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	const op = "api.reject"
	var req rejectRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := s.evals.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "evalID"), req.Feedback, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// --- Certifications ---

func (s *Server) handleGetCertification(w http.ResponseWriter, r *http.Request) {
	cert, err := s.store.GetCertification(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		writeError(w, r, certerr.Internal("api.get_certification", err))
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	const op = "api.revoke"
	var req revokeRequest
	if err := readJSON(w, r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.issuer.Revoke(r.Context(), actorFrom(r), chi.URLParam(r, "certID"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecomputationResponse(rc))
}

// --- Multipart helpers ---

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request, op string) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload*maxFilesPerRequest+maxJSONBody)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, certerr.Validation(op, "invalid multipart body: %v", err)
	}
	return r.MultipartForm, nil
}

func (s *Server) readUploads(op string, files []*multipart.FileHeader) ([]evaluation.Upload, error) {
	if len(files) > maxFilesPerRequest {
		return nil, certerr.Validation(op, "at most %d files per request", maxFilesPerRequest)
	}
	uploads := make([]evaluation.Upload, 0, len(files))
	for _, fh := range files {
		if fh.Size > s.maxUpload {
			return nil, certerr.Validation(op, "document %q exceeds the %d byte limit", fh.Filename, s.maxUpload)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, certerr.Internal(op, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
		f.Close() //nolint:errcheck
		if err != nil {
			return nil, certerr.Internal(op, err)
		}
		mime := fh.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		uploads = append(uploads, evaluation.Upload{Name: fh.Filename, MimeType: mime, Data: data})
	}
	return uploads, nil
}

func firstValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
