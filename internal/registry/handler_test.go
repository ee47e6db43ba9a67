package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"anonreport/internal/registry"
	"anonreport/internal/store"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
)

func setupRouter(t *testing.T, n int) (*gin.Engine, []registry.Entry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(store.NewMemory())
	var entries []registry.Entry
	for i := 0; i < n; i++ {
		e, err := reg.Append(context.Background(), registry.Entry{Nullifier: zk.SecretFromBytes([]byte{'h', byte(i)})})
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	r := gin.New()
	r.GET("/api/reports", registry.ListHandler(reg, 3))
	r.GET("/api/reports/:id", registry.GetHandler(reg))
	r.GET("/api/stats", registry.StatsHandler(reg))
	r.GET("/api/admin/reports/by-nullifier/:nullifier", registry.ByNullifierHandler(reg))
	return r, entries
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestListHandlerCapsLimit(t *testing.T) {
	r, _ := setupRouter(t, 5)

	w := get(r, "/api/reports?offset=1&limit=50")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp registry.ListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Limit != 3 || resp.Total != 5 || len(resp.Entries) != 3 || resp.Entries[0].ID != 1 {
		t.Fatalf("unexpected page %+v", resp)
	}

	if w := get(r, "/api/reports?offset=-1"); w.Code != http.StatusBadRequest {
		t.Fatalf("negative offset status = %d", w.Code)
	}
	if w := get(r, "/api/reports?limit=abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}

func TestGetAndByNullifierHandlers(t *testing.T) {
	r, entries := setupRouter(t, 2)

	w := get(r, "/api/reports/1")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var e registry.Entry
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.ID != 1 || e.Nullifier != entries[1].Nullifier {
		t.Fatalf("unexpected entry %+v", e)
	}
	if w := get(r, "/api/reports/9"); w.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d", w.Code)
	}
	if w := get(r, "/api/reports/x"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}

	w = get(r, "/api/admin/reports/by-nullifier/"+entries[0].Nullifier.String())
	if w.Code != http.StatusOK {
		t.Fatalf("by-nullifier status = %d", w.Code)
	}
	e = registry.Entry{}
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.ID != 0 {
		t.Fatalf("by-nullifier id = %d", e.ID)
	}
	unused := zk.SecretFromBytes([]byte("unused"))
	if w := get(r, "/api/admin/reports/by-nullifier/"+unused.String()); w.Code != http.StatusNotFound {
		t.Fatalf("unknown nullifier status = %d", w.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	r, _ := setupRouter(t, 2)
	w := get(r, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st registry.Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.LastUpdated == nil {
		t.Fatalf("stats = %+v", st)
	}
}
