package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func newTestService(t *testing.T, lock Lock, m *metrics.CronJobMetrics, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Name:     "sync",
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Interval: time.Minute,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func TestRunCycleRunsEveryJobEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("boom")}
	lock := &fakeLock{}

	if err := newTestService(t, lock, m, bad, ok).runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if ok.runs != 1 || bad.runs != 1 {
		t.Fatalf("expected both jobs once, got ok=%d bad=%d", ok.runs, bad.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("lock not released")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n := counterValue(families, "flable_cron_job_runs_total", map[string]string{"job": "bad", "result": "failure"}); n != 1 {
		t.Fatalf("expected one failure, got %v", n)
	}
	if n := counterValue(families, "flable_cron_job_runs_total", map[string]string{"job": "ok", "result": "success"}); n != 1 {
		t.Fatalf("expected one success, got %v", n)
	}
}

func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, label := range m.GetLabel() {
				if labels[label.GetName()] == label.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &countingJob{name: "sync"}
	lock := &fakeLock{held: true}

	if err := newTestService(t, lock, metrics.NewCronJobMetrics(reg), job).runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 || lock.releases != 0 {
		t.Fatalf("job should not run without the lock")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n := counterValue(families, "flable_cron_cycles_skipped_total", map[string]string{"service": "sync"}); n != 1 {
		t.Fatalf("expected one skipped cycle, got %v", n)
	}
}

func TestNewServiceRequiresInterval(t *testing.T) {
	_, err := NewService(ServiceParams{Name: "sync", Logger: logger.Nop(), Lock: &fakeLock{}})
	if err == nil {
		t.Fatal("expected interval error")
	}
}
