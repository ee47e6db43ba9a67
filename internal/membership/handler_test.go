package membership

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func setupRouter(s *Set) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/membership", StateHandler(s, zk.ContentScope))
	r.POST("/api/admin/members", EnrollHandler(s, zerolog.Nop()))
	r.POST("/api/admin/members/revoke", RevokeHandler(s, zerolog.Nop()))
	r.GET("/api/admin/members/:commitment/leaked", LeakedHandler(s))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestEnrollRevokeHandlers(t *testing.T) {
	s, _ := newTestSet(Window{Digests: 4, MaxAge: time.Minute})
	r := setupRouter(s)
	c := commitment("handler")

	w := do(r, http.MethodPost, "/api/admin/members", `{"commitment":"`+c.String()+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll status = %d body=%s", w.Code, w.Body)
	}
	var change ChangeResponse
	if err := json.NewDecoder(w.Body).Decode(&change); err != nil {
		t.Fatal(err)
	}
	if change.Digest.Epoch != 1 || change.Member.Index != 0 {
		t.Fatalf("unexpected change %+v", change)
	}

	w = do(r, http.MethodPost, "/api/admin/members", `{"commitment":"`+c.String()+`"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate enroll status = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/membership", "")
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d", w.Code)
	}
	var st StateResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Root != s.Current().Root || len(st.Leaves) != 1 || st.Leaves[0] != c || st.Scope != "content" || st.Depth != 16 {
		t.Fatalf("unexpected state %+v", st)
	}

	w = do(r, http.MethodPost, "/api/admin/members/revoke", `{"commitment":"`+c.String()+`","leaked":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d body=%s", w.Code, w.Body)
	}
	w = do(r, http.MethodGet, "/api/admin/members/"+c.String()+"/leaked", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"leaked":true`) {
		t.Fatalf("leaked lookup = %d %s", w.Code, w.Body)
	}

	w = do(r, http.MethodGet, "/api/membership", "")
	st = StateResponse{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Leaves[0].IsZero() || len(st.Revoked) != 1 || st.Revoked[0] != c {
		t.Fatalf("revoked state %+v", st)
	}
}

func TestAdminHandlerErrors(t *testing.T) {
	s, _ := newTestSet(Window{Digests: 4, MaxAge: time.Minute})
	r := setupRouter(s)
	unknown := commitment("nobody")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "missing commitment", method: http.MethodPost, path: "/api/admin/members", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed commitment", method: http.MethodPost, path: "/api/admin/members", body: `{"commitment":"xyz"}`, want: http.StatusBadRequest},
		{name: "revoke unknown", method: http.MethodPost, path: "/api/admin/members/revoke", body: `{"commitment":"` + unknown.String() + `"}`, want: http.StatusNotFound},
		{name: "leaked unknown", method: http.MethodGet, path: "/api/admin/members/" + unknown.String() + "/leaked", want: http.StatusNotFound},
		{name: "leaked malformed", method: http.MethodGet, path: "/api/admin/members/nope/leaked", want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(r, tc.method, tc.path, tc.body); w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body)
			}
		})
	}
}
