package models

import "testing"

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{"queued to running", JobStatusQueued, JobStatusRunning, false},
		{"running to finished", JobStatusRunning, JobStatusFinished, false},
		{"running to failed", JobStatusRunning, JobStatusFailed, false},
		{"queued to finished skips running", JobStatusQueued, JobStatusFinished, true},
		{"queued to failed skips running", JobStatusQueued, JobStatusFailed, true},
		{"finished to running", JobStatusFinished, JobStatusRunning, true},
		{"failed to queued", JobStatusFailed, JobStatusQueued, true},
		{"finished to failed", JobStatusFinished, JobStatusFailed, true},
		{"running to queued", JobStatusRunning, JobStatusQueued, true},
		{"unknown source", JobStatus("paused"), JobStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusQueued:   false,
		JobStatusRunning:  false,
		JobStatusFinished: true,
		JobStatusFailed:   true,
	}
	for state, want := range terminal {
		if got := IsTerminalState(state); got != want {
			t.Errorf("IsTerminalState(%s) = %v, want %v", state, got, want)
		}
	}
}

func TestIsValidKind(t *testing.T) {
	for _, kind := range Kinds {
		if !IsValidKind(kind) {
			t.Errorf("IsValidKind(%s) = false, want true", kind)
		}
	}
	if IsValidKind(Kind("volcano")) {
		t.Error("IsValidKind accepted an unknown kind")
	}
}

func TestJobClone(t *testing.T) {
	job := &Job{
		ID:     "j1",
		Kind:   KindDEG,
		Status: JobStatusQueued,
		Params: Params{GroupMap: map[string]string{"s1": "A"}},
		Inputs: []string{"u1"},
	}

	clone := job.Clone()
	clone.Params.GroupMap["s1"] = "B"
	clone.Inputs[0] = "u2"
	clone.Status = JobStatusRunning

	if job.Params.GroupMap["s1"] != "A" {
		t.Error("clone shares the group map with the original")
	}
	if job.Inputs[0] != "u1" {
		t.Error("clone shares the inputs slice with the original")
	}
	if job.Status != JobStatusQueued {
		t.Error("clone shares status with the original")
	}
}
