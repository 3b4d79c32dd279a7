package http

import (
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"
)

// page serves a placeholder document; the real pages are rendered by the
// frontend bundle.
func (h *Handler) page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		greeting := ""
		if sc := sessionContext(c); sc.Present {
			who := sc.Identity.Name
			if who == "" {
				who = sc.Identity.Email
			}
			greeting = fmt.Sprintf("<p>Signed in as %s</p>", html.EscapeString(who))
		}
		body := fmt.Sprintf("<!doctype html><title>%s</title><h1>%s</h1>%s", name, name, greeting)
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
	}
}
