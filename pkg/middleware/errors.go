package middleware

import (
	"net/http"

	"github.com/sundai-club/shop/pkg/httputil"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteJSON(w, status, httputil.Response{
		Error: &httputil.ErrorResponse{Code: code, Message: message},
	})
}
