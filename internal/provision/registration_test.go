package provision

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

const basePath = "/api/fmc_config/v1/domain/default"

func testRegistrationConfig() RegistrationConfig {
	cfg := DefaultRegistrationConfig()
	cfg.AppearTimeout = 600 * time.Second
	cfg.AppearInterval = 10 * time.Second
	cfg.ReadyInterval = 10 * time.Second
	cfg.ReadyHardTimeout = 600 * time.Second
	return cfg
}

func TestDeviceReadyClassifier(t *testing.T) {
	tests := []struct {
		name       string
		health     fmc.HealthStatus
		deployment string
		want       bool
	}{
		{"green deployed", fmc.HealthGreen, fmc.DeploymentDeployed, true},
		{"yellow deployed", fmc.HealthYellow, fmc.DeploymentDeployed, true},
		{"recovered deployed", fmc.HealthRecovered, fmc.DeploymentDeployed, true},
		{"green not deployed", fmc.HealthGreen, fmc.DeploymentNotDeployed, false},
		{"red deployed", fmc.HealthRed, fmc.DeploymentDeployed, false},
		{"red not deployed", fmc.HealthRed, fmc.DeploymentNotDeployed, false},
		{"unknown deployed", fmc.HealthUnknown, fmc.DeploymentDeployed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := Device{Health: tt.health, DeploymentStatus: tt.deployment}
			if got := dev.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
			// Pure function of its fields: asking again gives the same answer.
			if got := dev.Ready(); got != tt.want {
				t.Errorf("Ready() second call = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterAndAwaitReadyHappyPath(t *testing.T) {
	// Devices appear on the second inventory poll and report ready
	// immediately after.
	listCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-1", "name": "Initial_policy"}))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		listCalls++
		if listCalls == 1 {
			writeJSON(t, w, items())
			return
		}
		writeJSON(t, w, items(
			deviceJSON("dev-1", "fw-a", "green", "DEPLOYED"),
			deviceJSON("dev-2", "fw-b", "yellow", "DEPLOYED"),
		))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-1", "fw-a", "green", "DEPLOYED"))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-2", "fw-b", "yellow", "DEPLOYED"))
	})

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	devices, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
		{Name: "fw-b", Host: "10.0.0.2", RegKey: "key-b"},
	})
	if err != nil {
		t.Fatalf("RegisterAndAwaitReady() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	if devices["fw-a"].ID != "dev-1" {
		t.Errorf("fw-a id = %q, want dev-1", devices["fw-a"].ID)
	}
	if !devices["fw-b"].Ready() {
		t.Errorf("fw-b not ready: %+v", devices["fw-b"])
	}
}

func TestRegisterSubmissionFailureDoesNotAbortBatch(t *testing.T) {
	// One registration is rejected outright. The batch continues; the
	// rejected device appears anyway (simulating manual recovery), so the
	// wait still succeeds.
	posts := 0
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-1", "name": "Initial_policy"}))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			if posts == 1 {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, items(
			deviceJSON("dev-1", "fw-a", "green", "DEPLOYED"),
			deviceJSON("dev-2", "fw-b", "green", "DEPLOYED"),
		))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-1", "fw-a", "green", "DEPLOYED"))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-2", "fw-b", "green", "DEPLOYED"))
	})

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	if _, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
		{Name: "fw-b", Host: "10.0.0.2", RegKey: "key-b"},
	}); err != nil {
		t.Fatalf("RegisterAndAwaitReady() error = %v", err)
	}
	if posts != 2 {
		t.Errorf("posts = %d, want 2", posts)
	}
}

func TestAppearanceTimeoutAfterExactPollCount(t *testing.T) {
	// fw-c never appears. With a 600s budget and 10s interval the inventory
	// is polled exactly 60 times, then the waiter times out naming fw-c.
	listCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-1", "name": "Initial_policy"}))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		listCalls++
		writeJSON(t, w, items(
			deviceJSON("dev-1", "fw-a", "green", "DEPLOYED"),
			deviceJSON("dev-2", "fw-b", "green", "DEPLOYED"),
		))
	})

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	_, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
		{Name: "fw-b", Host: "10.0.0.2", RegKey: "key-b"},
		{Name: "fw-c", Host: "10.0.0.3", RegKey: "key-c"},
	})
	if !IsKind(err, KindTimeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
	var pe *Error
	if !asProvisionError(err, &pe) {
		t.Fatalf("error %v is not a provision error", err)
	}
	if len(pe.Detail) != 1 || pe.Detail[0] != "fw-c" {
		t.Errorf("timeout detail = %v, want [fw-c]", pe.Detail)
	}
	if listCalls != 60 {
		t.Errorf("inventory polls = %d, want exactly 60", listCalls)
	}
}

func TestAwaitReadyDeviceVanishesMidWait(t *testing.T) {
	readyPolls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-1", "name": "Initial_policy"}))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		readyPolls++
		if readyPolls <= 2 {
			writeJSON(t, w, items(
				deviceJSON("dev-1", "fw-a", "red", "NOT_DEPLOYED"),
				deviceJSON("dev-2", "fw-b", "red", "NOT_DEPLOYED"),
			))
			return
		}
		// fw-b drops out of the inventory after having been seen.
		writeJSON(t, w, items(deviceJSON("dev-1", "fw-a", "red", "NOT_DEPLOYED")))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-1", "fw-a", "red", "NOT_DEPLOYED"))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, deviceJSON("dev-2", "fw-b", "red", "NOT_DEPLOYED"))
	})

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	_, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
		{Name: "fw-b", Host: "10.0.0.2", RegKey: "key-b"},
	})
	if !IsKind(err, KindPartiallyVanished) {
		t.Fatalf("error = %v, want partially_vanished", err)
	}
	var pe *Error
	if !asProvisionError(err, &pe) {
		t.Fatalf("error %v is not a provision error", err)
	}
	if len(pe.Detail) != 1 || pe.Detail[0] != "fw-b" {
		t.Errorf("detail = %v, want [fw-b]", pe.Detail)
	}
}

func TestAwaitReadyToleratesNotDeployedThenConverges(t *testing.T) {
	// Devices report red/NOT_DEPLOYED for two readiness polls, then turn
	// green/DEPLOYED. The waiter warns but keeps polling.
	detailCalls := map[string]int{}
	deviceDetail := func(id, name string) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			detailCalls[name]++
			if detailCalls[name] <= 2 {
				writeJSON(t, w, deviceJSON(id, name, "red", "NOT_DEPLOYED"))
				return
			}
			writeJSON(t, w, deviceJSON(id, name, "green", "DEPLOYED"))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-1", "name": "Initial_policy"}))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, items(
			deviceJSON("dev-1", "fw-a", "red", "NOT_DEPLOYED"),
			deviceJSON("dev-2", "fw-b", "red", "NOT_DEPLOYED"),
		))
	})
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-1", deviceDetail("dev-1", "fw-a"))
	mux.HandleFunc(basePath+"/devices/devicerecords/dev-2", deviceDetail("dev-2", "fw-b"))

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	devices, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
		{Name: "fw-b", Host: "10.0.0.2", RegKey: "key-b"},
	})
	if err != nil {
		t.Fatalf("RegisterAndAwaitReady() error = %v", err)
	}
	if detailCalls["fw-a"] != 3 {
		t.Errorf("fw-a detail polls = %d, want 3", detailCalls["fw-a"])
	}
	if !devices["fw-a"].Ready() || !devices["fw-b"].Ready() {
		t.Errorf("devices not ready: %+v", devices)
	}
}

func TestMissingAccessPolicyIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/policy/accesspolicies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, items(map[string]any{"id": "pol-9", "name": "Some_other_policy"}))
	})

	r := NewRegistrar(newTestClient(t, mux), testRegistrationConfig(), zap.NewNop())
	r.sleep = noSleep

	_, err := r.RegisterAndAwaitReady(context.Background(), []DeviceSpec{
		{Name: "fw-a", Host: "10.0.0.1", RegKey: "key-a"},
	})
	if !IsKind(err, KindNotFound) {
		t.Fatalf("error = %v, want not_found", err)
	}
}
