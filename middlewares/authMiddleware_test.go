package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/appctx"
	"github.com/sekura/tollops_backend/utils"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tok, err := utils.JwtGenerate("op1@tp01", "operator", "TP01")
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid bearer", "Bearer " + tok, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var actor, site string
			var rawToken any
			r := gin.New()
			r.Use(AuthMiddleware())
			r.GET("/x", func(c *gin.Context) {
				ctx := c.Request.Context()
				actor, _ = utils.GetActorFromContext(ctx)
				site, _ = utils.GetSiteFromContext(ctx)
				rawToken = ctx.Value(appctx.ContextKey("Token"))
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if tc.want != http.StatusOK {
				return
			}
			if actor != "op1@tp01" || site != "TP01" {
				t.Fatalf("unexpected identity %q/%q", actor, site)
			}
			if rawToken != nil {
				t.Fatalf("bearer token must not be kept in the request context")
			}
		})
	}
}
