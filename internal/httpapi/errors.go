package httpapi

import (
	"errors"
	"net/http"

	"skillzio/internal/checkout"
	"skillzio/internal/enrollment"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/wallet"
)

func (s *Server) writeDomainError(w http.ResponseWriter, op string, err error) {
	var enrolled *checkout.AlreadyEnrolledError
	switch {
	case errors.As(err, &enrolled):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "courses": enrolled.Courses})
	case errors.Is(err, checkout.ErrInvalidRequest),
		errors.Is(err, enrollment.ErrUnknownChapter),
		errors.Is(err, enrollment.ErrInvalidQuizResult),
		errors.Is(err, wallet.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, payment.ErrDuplicatePayment),
		errors.Is(err, checkout.ErrOrderClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, enrollment.ErrEnrollmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
