package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register should be a no-op, got: %v", err)
	}
}

func TestIncJobStartedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	IncJobStarted("health_check")

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, f := range mf {
		if f.GetName() == "cronman_scheduler_jobs_started_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatalf("jobs_started_total metric not registered")
	}
	if len(found.Metric) != 1 || found.Metric[0].GetCounter().GetValue() != 1 {
		t.Fatalf("unexpected metric value: %+v", found.Metric)
	}
}

func TestHelpersAreNoOpsBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// None of these should panic when no registry has accepted the
	// collectors yet.
	ObserveTickDuration(1.5)
	IncTickSkipped("locked")
	IncJobStarted("health_check")
	IncJobStartFailed("health_check")
	IncLockContention("health_check")
	IncFleetKill("termed")
	IncRemoteControlCall("enable", "ok")
}
