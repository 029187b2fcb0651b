package provision

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

// newTestClient spins an httptest TLS server behind an fmc.Client. The
// client's TLS verification is disabled anyway (FMC ships self-signed
// certificates), so the test server's certificate is accepted as-is.
func newTestClient(t *testing.T, handler http.Handler) *fmc.Client {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	cfg := fmc.DefaultConfig()
	cfg.Host = strings.TrimPrefix(ts.URL, "https://")
	cfg.RequestsPerMin = 600000 // keep the limiter out of test timing
	return fmc.NewClient(cfg, zap.NewNop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// asProvisionError unwraps err into a typed provisioning error.
func asProvisionError(err error, target **Error) bool {
	return errors.As(err, target)
}

func items(objs ...any) map[string]any {
	return map[string]any{"items": objs}
}

func deviceJSON(id, name, health, deployment string) map[string]any {
	return map[string]any{
		"id":               id,
		"name":             name,
		"healthStatus":     health,
		"deploymentStatus": deployment,
	}
}
