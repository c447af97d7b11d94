package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"skillzio/internal/checkout"
	"skillzio/internal/enrollment"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/wallet"

	"github.com/google/uuid"
)

type Deps struct {
	Checkout    *checkout.Orchestrator
	Orders      *order.Ledger
	Payments    *payment.Recorder
	Enrollments *enrollment.Manager
	Wallets     *wallet.Ledger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /checkout", s.startCheckout)
	s.mux.HandleFunc("POST /checkout/{orderID}/complete", s.completeCheckout)
	s.mux.HandleFunc("POST /checkout/{orderID}/fail", s.failCheckout)

	s.mux.HandleFunc("GET /orders", s.listOrders)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)

	s.mux.HandleFunc("GET /enrollments", s.listEnrollments)
	s.mux.HandleFunc("GET /enrollments/{courseID}", s.getEnrollment)
	s.mux.HandleFunc("POST /enrollments/{courseID}/chapters/{chapterID}/complete", s.completeChapter)
	s.mux.HandleFunc("POST /enrollments/{courseID}/quizzes", s.submitQuiz)

	s.mux.HandleFunc("GET /wallet", s.getWallet)
	s.mux.HandleFunc("GET /wallet/transactions", s.listTransactions)
	s.mux.HandleFunc("POST /wallet/deposit", s.deposit)
}

// HandleFunc mounts an extra route, such as the websocket stream.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) startCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		CourseIDs []uuid.UUID   `json:"course_ids"`
		Amount    int64         `json:"amount"`
		Channel   order.Channel `json:"channel"`
	}
	if !decode(w, r, &req) {
		return
	}

	settlement, err := s.deps.Checkout.Checkout(r.Context(), checkout.Request{
		BuyerID:   userID,
		CourseIDs: req.CourseIDs,
		Amount:    req.Amount,
		Channel:   req.Channel,
	})
	if err != nil && !errors.Is(err, checkout.ErrPartialSettlement) {
		s.writeDomainError(w, "checkout", err)
		return
	}

	status := http.StatusOK
	if settlement.Order.Status == order.StatusPending {
		status = http.StatusCreated
	}
	writeJSON(w, status, settlement)
}

func (s *Server) completeCheckout(w http.ResponseWriter, r *http.Request) {
	o, ok := s.ownedOrder(w, r)
	if !ok {
		return
	}

	var conf checkout.Confirmation
	if !decode(w, r, &conf) {
		return
	}

	settlement, err := s.deps.Checkout.VerifyAndComplete(r.Context(), o.ID, conf)
	if err != nil && !errors.Is(err, checkout.ErrPartialSettlement) {
		s.writeDomainError(w, "complete checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) failCheckout(w http.ResponseWriter, r *http.Request) {
	o, ok := s.ownedOrder(w, r)
	if !ok {
		return
	}

	var req struct {
		PaymentRef string `json:"payment_ref"`
		Method     string `json:"method"`
		Reason     string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}

	failed, err := s.deps.Checkout.FailGatewayCheckout(r.Context(), o.ID, req.PaymentRef, req.Method, req.Reason)
	if err != nil {
		s.writeDomainError(w, "fail checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	orders, err := s.deps.Orders.ListByBuyer(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.ownedOrder(w, r)
	if !ok {
		return
	}

	payments, err := s.deps.Payments.ListByOrder(r.Context(), o.ID)
	if err != nil {
		s.writeDomainError(w, "list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "payments": payments})
}

func (s *Server) listEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	enrollments, err := s.deps.Enrollments.ListByBuyer(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, "list enrollments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollments": enrollments})
}

func (s *Server) getEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}

	e, err := s.deps.Enrollments.Get(r.Context(), userID, courseID)
	if err != nil {
		s.writeDomainError(w, "get enrollment", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) completeChapter(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	chapterID, ok := pathID(w, r, "chapterID")
	if !ok {
		return
	}

	e, err := s.deps.Enrollments.MarkChapterCompleted(r.Context(), userID, courseID, chapterID)
	if err != nil {
		s.writeDomainError(w, "complete chapter", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) submitQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}

	var result enrollment.QuizResult
	if !decode(w, r, &result) {
		return
	}

	e, err := s.deps.Enrollments.SubmitQuizResult(r.Context(), userID, courseID, result)
	if err != nil {
		if e.ID != uuid.Nil {
			// The attempt is stored; only certificate issuance failed.
			s.logger.Error("certificate issuance failed", "buyer_id", userID, "course_id", courseID, "err", err)
			writeJSON(w, http.StatusOK, map[string]any{"enrollment": e, "warnings": []string{err.Error()}})
			return
		}
		s.writeDomainError(w, "submit quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollment": e})
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	wl, err := s.deps.Wallets.GetOrCreateWallet(r.Context(), userID, wallet.RoleStudent)
	if err != nil {
		s.writeDomainError(w, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	txns, err := s.deps.Wallets.Transactions(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing Idempotency-Key header")
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	wl, err := s.deps.Wallets.Deposit(r.Context(), userID, req.Amount, "deposit:"+key)
	if err != nil {
		s.writeDomainError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// ownedOrder loads the order in the path and hides orders of other buyers.
func (s *Server) ownedOrder(w http.ResponseWriter, r *http.Request) (order.Order, bool) {
	userID, ok := s.userID(w, r)
	if !ok {
		return order.Order{}, false
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return order.Order{}, false
	}

	o, err := s.deps.Orders.Get(r.Context(), orderID)
	if err != nil {
		s.writeDomainError(w, "get order", err)
		return order.Order{}, false
	}
	if o.BuyerID != userID {
		writeError(w, http.StatusNotFound, "order not found")
		return order.Order{}, false
	}
	return o, true
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid X-User-ID header")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
