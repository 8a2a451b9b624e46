// Package httpapi exposes the orchestrator over HTTP, per spec.md §6.
//
// Grounded on forgedlabs-mail_sorter's verifier service, which already
// fronts an email-verification flow with gorilla/mux; the route table
// and JSON envelope shapes below are this spec's analogue.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/devyanshu/emailprobe/internal/domain"
	"github.com/devyanshu/emailprobe/internal/orchestrator"
	"github.com/devyanshu/emailprobe/internal/queue"
	"github.com/devyanshu/emailprobe/internal/repository"
)

// Server bundles the orchestrator and read-side repositories behind an
// HTTP router.
type Server struct {
	orch  *orchestrator.Orchestrator
	repos repository.Repositories
	// rdb is optional: when set, POST /verify?async=true enqueues the
	// request onto the queue package instead of running it inline.
	rdb *redis.Client
}

// New builds a Server. rdb may be nil, in which case async=true
// requests are rejected with 503 rather than silently running inline.
func New(orch *orchestrator.Orchestrator, repos repository.Repositories, rdb *redis.Client) *Server {
	return &Server{orch: orch, repos: repos, rdb: rdb}
}

// Router builds the mux.Router for this API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	r.HandleFunc("/company/{company}", s.handleCompany).Methods(http.MethodGet)
	r.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)
	r.HandleFunc("/person", s.handlePerson).Methods(http.MethodGet)
	r.HandleFunc("/catch-all", s.handleCatchAll).Methods(http.MethodGet)
	return r
}

type verifyRequest struct {
	FirstName             string   `json:"firstName"`
	LastName              string   `json:"lastName"`
	Company               string   `json:"company"`
	Domain                string   `json:"domain,omitempty"`
	CurrentPosition       string   `json:"currentPosition,omitempty"`
	Phone                 string   `json:"phone,omitempty"`
	EducationalInstitute  string   `json:"educationalInstitute,omitempty"`
	PreviousCompanies     []string `json:"previousCompanies,omitempty"`
	Qualifications        []string `json:"qualifications,omitempty"`
}

type verifiedEmailJSON struct {
	Email    string `json:"email"`
	SourceIP string `json:"sourceIP"`
}

type verifyMetadata struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company"`
	Domain     string `json:"domain"`
	IsCatchAll *bool  `json:"isCatchAll,omitempty"`
}

type verifyResponse struct {
	Success                   bool                `json:"success"`
	VerifiedEmails            []verifiedEmailJSON `json:"verifiedEmails"`
	TotalPatternsTested       int                 `json:"totalPatternsTested"`
	PatternsTestedBeforeValid int                 `json:"patternsTestedBeforeValid"`
	Metadata                  verifyMetadata      `json:"metadata"`
	TimeTaken                 int64               `json:"timeTaken"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.FirstName) < 2 || len(req.LastName) < 2 || len(req.Company) < 2 {
		writeError(w, http.StatusBadRequest, "firstName, lastName, and company are required and must be at least 2 characters")
		return
	}

	orchReq := orchestrator.Request{
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		CompanyName:          req.Company,
		ProvidedDomain:       req.Domain,
		CurrentPosition:      req.CurrentPosition,
		Phone:                req.Phone,
		EducationalInstitute: req.EducationalInstitute,
		PreviousCompanies:    req.PreviousCompanies,
		Qualifications:       req.Qualifications,
	}

	if r.URL.Query().Get("async") == "true" {
		if s.rdb == nil {
			writeError(w, http.StatusServiceUnavailable, "async verification is not available")
			return
		}
		jobID, err := queue.Enqueue(r.Context(), s.rdb, orchReq)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
		return
	}

	resp, err := s.orch.Verify(r.Context(), orchReq)
	if err != nil {
		if oe, ok := err.(*orchestrator.Error); ok {
			writeError(w, http.StatusBadRequest, oe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := verifyResponse{
		Success:                   resp.Success,
		TotalPatternsTested:       resp.TotalPatternsTested,
		PatternsTestedBeforeValid: resp.PatternsTestedBeforeValid,
		Metadata: verifyMetadata{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Company:   req.Company,
			Domain:    resp.Domain,
		},
		TimeTaken: resp.TimeTaken.Milliseconds(),
	}
	if resp.IsCatchAll {
		v := true
		out.Metadata.IsCatchAll = &v
	}
	for _, ve := range resp.VerifiedEmails {
		out.VerifiedEmails = append(out.VerifiedEmails, verifiedEmailJSON{Email: ve.Email, SourceIP: ve.SourceIP})
	}

	writeJSON(w, http.StatusOK, out)
}

// handleJob polls the status of a job submitted via POST
// /verify?async=true, per spec.md §6.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.rdb == nil {
		writeError(w, http.StatusServiceUnavailable, "async verification is not available")
		return
	}
	id := mux.Vars(r)["id"]
	status, err := queue.Status(r.Context(), s.rdb, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type companyResponse struct {
	Name       string            `json:"name"`
	Domain     string            `json:"domain"`
	IsCatchAll bool              `json:"isCatchAll"`
	Patterns   []patternResponse `json:"patterns"`
}

type patternResponse struct {
	Pattern      string    `json:"pattern"`
	UsageCount   int       `json:"usageCount"`
	LastVerified time.Time `json:"lastVerified"`
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["company"]
	c, err := s.repos.Companies.FindByNameOrDomain(r.Context(), name, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}

	patterns := make([]patternResponse, 0, len(c.VerifiedPatterns))
	for _, p := range c.VerifiedPatterns {
		patterns = append(patterns, patternResponse{Pattern: p.Template, UsageCount: p.UsageCount, LastVerified: p.LastVerified})
	}
	sortPatternsDesc(patterns)

	writeJSON(w, http.StatusOK, companyResponse{
		Name:       c.Name,
		Domain:     c.Domain,
		IsCatchAll: c.IsCatchAll,
		Patterns:   patterns,
	})
}

func sortPatternsDesc(p []patternResponse) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j].UsageCount > p[j-1].UsageCount; j-- {
			p[j], p[j-1] = p[j-1], p[j]
		}
	}
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	top, err := s.repos.Patterns.Top(r.Context(), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, top)
}

type personResponse struct {
	FirstName       string               `json:"firstName"`
	LastName        string               `json:"lastName"`
	Company         string               `json:"company"`
	Domain          string               `json:"domain"`
	VerifiedEmail   string               `json:"verifiedEmail,omitempty"`
	EmailVerifiedAt *time.Time           `json:"emailVerifiedAt,omitempty"`
	AllTestedEmails []domain.TestedEmail `json:"allTestedEmails"`
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	firstName, lastName, company := q.Get("firstName"), q.Get("lastName"), q.Get("company")

	p, err := s.repos.People.FindNatural(r.Context(), firstName, lastName, company)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "person not found")
		return
	}

	resp := personResponse{
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Company:         p.Company,
		Domain:          p.Domain,
		VerifiedEmail:   p.VerifiedEmail,
		AllTestedEmails: p.AllTestedEmails,
	}
	if !p.EmailVerifiedAt.IsZero() {
		resp.EmailVerifiedAt = &p.EmailVerifiedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	domains, err := s.repos.CatchAll.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
