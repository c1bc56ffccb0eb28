package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	target string
	file   string
	every  time.Duration
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunCheck(target string)       { m.called["RunCheck"] = true; m.target = target }
func (m *mockApp) RunSimulate(file string, interval time.Duration) {
	m.called["RunSimulate"] = true
	m.file = file
	m.every = interval
}
func (m *mockApp) RunService() { m.called["RunService"] = true }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verify         func(*testing.T, *mockApp)
	}{
		{
			name:           "Check",
			args:           []string{"--check", "snapshot.json"},
			expectedCalled: "RunCheck",
			verify: func(t *testing.T, m *mockApp) {
				if m.opts.Check != "snapshot.json" {
					t.Errorf("expected Check snapshot.json, got %s", m.opts.Check)
				}
				if m.target != "snapshot.json" {
					t.Errorf("expected RunCheck target snapshot.json, got %s", m.target)
				}
			},
		},
		{
			name:           "CheckURL",
			args:           []string{"--check", "https://feed.example.test/snapshot.json"},
			expectedCalled: "RunCheck",
			verify: func(t *testing.T, m *mockApp) {
				if m.target != "https://feed.example.test/snapshot.json" {
					t.Errorf("expected URL target, got %s", m.target)
				}
			},
		},
		{
			name:           "Simulate",
			args:           []string{"--simulate", "incidents.json", "--interval", "5s"},
			expectedCalled: "RunSimulate",
			verify: func(t *testing.T, m *mockApp) {
				if m.file != "incidents.json" {
					t.Errorf("expected simulate file incidents.json, got %s", m.file)
				}
				if m.every != 5*time.Second {
					t.Errorf("expected interval 5s, got %s", m.every)
				}
				if m.opts.Interval != 5*time.Second {
					t.Errorf("expected Interval option 5s, got %s", m.opts.Interval)
				}
			},
		},
		{
			name:           "SimulateOnce",
			args:           []string{"--simulate", "incidents.json"},
			expectedCalled: "RunSimulate",
			verify: func(t *testing.T, m *mockApp) {
				if m.every != 0 {
					t.Errorf("expected interval 0, got %s", m.every)
				}
			},
		},
		{
			name:           "Service",
			args:           []string{"--config", "custom.yaml", "--port", "9090"},
			expectedCalled: "RunService",
			verify: func(t *testing.T, m *mockApp) {
				if m.opts.ConfigFile != "custom.yaml" {
					t.Errorf("expected ConfigFile custom.yaml, got %s", m.opts.ConfigFile)
				}
				if m.opts.Port != 9090 {
					t.Errorf("expected Port 9090, got %d", m.opts.Port)
				}
			},
		},
		{
			name:           "CheckWinsOverSimulate",
			args:           []string{"--check", "a.json", "--simulate", "b.json"},
			expectedCalled: "RunCheck",
			verify: func(t *testing.T, m *mockApp) {
				if m.called["RunSimulate"] {
					t.Error("expected RunSimulate not to be called when --check is set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}

			if tt.verify != nil {
				tt.verify(t, app)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of incidentmap") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no dispatch after --help, got %v", app.called)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--no-such-flag"}, &out, app)
	if err == nil {
		t.Error("expected error from unknown flag, got nil")
	}
	if len(app.called) != 0 {
		t.Errorf("expected no dispatch after a parse error, got %v", app.called)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "incidentmap version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}

	if !app.called["RunService"] {
		t.Error("expected RunService to be called by default")
	}

	if app.opts.ConfigFile != "config.yaml" {
		t.Errorf("expected default ConfigFile config.yaml, got %s", app.opts.ConfigFile)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
