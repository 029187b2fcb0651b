package provision

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

func testHAConfig() HAConfig {
	return HAConfig{
		FailoverInterface: "GigabitEthernet0/3",
		CreateTimeout:     600 * time.Second,
		ConvergeTimeout:   600 * time.Second,
		PollInterval:      10 * time.Second,
	}
}

func haDetailJSON(primary, secondary string) map[string]any {
	return map[string]any{
		"id":   "ha-123",
		"name": "fw-a_HA",
		"metadata": map[string]any{
			"primaryStatus": map[string]any{
				"currentStatus": primary,
				"device":        map[string]any{"id": "dev-1", "name": "fw-a", "type": "Device"},
			},
			"secondaryStatus": map[string]any{
				"currentStatus": secondary,
				"device":        map[string]any{"id": "dev-2", "name": "fw-b", "type": "Device"},
			},
		},
	}
}

func interfacesHandler(t *testing.T) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(
			map[string]any{"id": "if-0", "name": "GigabitEthernet0/0"},
			map[string]any{"id": "if-3", "name": "GigabitEthernet0/3"},
		))
	}
}

func TestPairNameDerivation(t *testing.T) {
	e := NewHAEngine(nil, HAConfig{}, zap.NewNop())
	if got := e.PairName(Device{Name: "fw-a"}); got != "fw-a_HA" {
		t.Errorf("PairName() = %q, want fw-a_HA", got)
	}

	e = NewHAEngine(nil, HAConfig{PairName: "edge-pair"}, zap.NewNop())
	if got := e.PairName(Device{Name: "fw-a"}); got != "edge-pair" {
		t.Errorf("PairName() = %q, want edge-pair", got)
	}
}

func TestCreateAndAwaitActiveStandby(t *testing.T) {
	// The pair shows up in the collection on the third poll; convergence
	// passes through a negotiating phase before reaching active/standby.
	listCalls, detailCalls := 0, 0
	var created fmc.HAPairRequest

	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := jsonDecode(r, &created); err != nil {
				t.Fatalf("decode ha pair request: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
		listCalls++
		if listCalls < 3 {
			writeJSON(t, w, items())
			return
		}
		writeJSON(t, w, items(map[string]any{"id": "ha-123", "name": "fw-a_HA"}))
	})
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs/ha-123", func(w http.ResponseWriter, r *http.Request) {
		detailCalls++
		if detailCalls == 1 {
			writeJSON(t, w, haDetailJSON("Negotiating", "Negotiating"))
			return
		}
		writeJSON(t, w, haDetailJSON("Active", "Standby"))
	})

	e := NewHAEngine(newTestClient(t, mux), testHAConfig(), zap.NewNop())
	e.sleep = noSleep

	pair, err := e.CreateAndAwaitActiveStandby(context.Background(),
		Device{Name: "fw-a", ID: "dev-1"},
		Device{Name: "fw-b", ID: "dev-2"},
	)
	if err != nil {
		t.Fatalf("CreateAndAwaitActiveStandby() error = %v", err)
	}
	if pair.ID != "ha-123" {
		t.Errorf("pair.ID = %q, want ha-123", pair.ID)
	}
	if pair.PrimaryStatus != "active" || pair.SecondaryStatus != "standby" {
		t.Errorf("statuses = %s/%s, want active/standby", pair.PrimaryStatus, pair.SecondaryStatus)
	}
	if pair.ActiveDevice.ID != "dev-1" {
		t.Errorf("active device = %+v, want dev-1", pair.ActiveDevice)
	}
	if listCalls != 3 {
		t.Errorf("collection polls = %d, want 3", listCalls)
	}

	// The creation request wires both failover links to the same interface.
	if created.HABootstrap == nil || created.HABootstrap.LanFailover == nil {
		t.Fatalf("ha bootstrap missing in request: %+v", created)
	}
	if got := created.HABootstrap.LanFailover.InterfaceObject.ID; got != "if-3" {
		t.Errorf("lan failover interface = %q, want if-3", got)
	}
	if !created.HABootstrap.LanFailover.UseSameLinkForFailovers {
		t.Error("UseSameLinkForFailovers = false, want true")
	}
}

func TestConvergenceFailedMemberStopsPolling(t *testing.T) {
	detailCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, items(map[string]any{"id": "ha-123", "name": "fw-a_HA"}))
	})
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs/ha-123", func(w http.ResponseWriter, r *http.Request) {
		detailCalls++
		writeJSON(t, w, haDetailJSON("Active", "Failed"))
	})

	e := NewHAEngine(newTestClient(t, mux), testHAConfig(), zap.NewNop())
	e.sleep = noSleep

	_, err := e.CreateAndAwaitActiveStandby(context.Background(),
		Device{Name: "fw-a", ID: "dev-1"},
		Device{Name: "fw-b", ID: "dev-2"},
	)
	if !IsKind(err, KindHAFailed) {
		t.Fatalf("error = %v, want ha_failed", err)
	}
	if detailCalls != 1 {
		t.Errorf("detail polls = %d, want 1 (failed member is terminal)", detailCalls)
	}
}

func TestConvergenceRequiresActiveDeviceRef(t *testing.T) {
	// A controller reporting active/standby without metadata's device ref
	// leaves nothing to target for interfaces, routes, and deployment.
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, items(map[string]any{"id": "ha-123", "name": "fw-a_HA"}))
	})
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs/ha-123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"id":   "ha-123",
			"name": "fw-a_HA",
			"metadata": map[string]any{
				"primaryStatus":   map[string]any{"currentStatus": "Active"},
				"secondaryStatus": map[string]any{"currentStatus": "Standby"},
			},
		})
	})

	e := NewHAEngine(newTestClient(t, mux), testHAConfig(), zap.NewNop())
	e.sleep = noSleep

	_, err := e.CreateAndAwaitActiveStandby(context.Background(),
		Device{Name: "fw-a", ID: "dev-1"},
		Device{Name: "fw-b", ID: "dev-2"},
	)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("error = %v, want not_found", err)
	}
	var pe *Error
	if !asProvisionError(err, &pe) {
		t.Fatalf("error %v is not a provision error", err)
	}
	if len(pe.Detail) != 1 || pe.Detail[0] != "fw-a_HA/primaryStatus.device" {
		t.Errorf("detail = %v", pe.Detail)
	}
}

func TestConvergenceTimeoutIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2/physicalinterfaces", interfacesHandler(t))
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, items(map[string]any{"id": "ha-123", "name": "fw-a_HA"}))
	})
	mux.HandleFunc(basePath+"/devicehapairs/ftddevicehapairs/ha-123", func(w http.ResponseWriter, r *http.Request) {
		// Stuck negotiating forever.
		writeJSON(t, w, haDetailJSON("Negotiating", "Cold Standby"))
	})

	e := NewHAEngine(newTestClient(t, mux), testHAConfig(), zap.NewNop())
	e.sleep = noSleep

	_, err := e.CreateAndAwaitActiveStandby(context.Background(),
		Device{Name: "fw-a", ID: "dev-1"},
		Device{Name: "fw-b", ID: "dev-2"},
	)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
}

func TestMissingFailoverInterfaceIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1/physicalinterfaces", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "if-0", "name": "GigabitEthernet0/0"}))
	})

	e := NewHAEngine(newTestClient(t, mux), testHAConfig(), zap.NewNop())
	e.sleep = noSleep

	_, err := e.CreateAndAwaitActiveStandby(context.Background(),
		Device{Name: "fw-a", ID: "dev-1"},
		Device{Name: "fw-b", ID: "dev-2"},
	)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("error = %v, want not_found", err)
	}
	var pe *Error
	if !asProvisionError(err, &pe) {
		t.Fatalf("error %v is not a provision error", err)
	}
	if len(pe.Detail) != 1 || pe.Detail[0] != "fw-a/GigabitEthernet0/3" {
		t.Errorf("detail = %v", pe.Detail)
	}
}
