package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{TaskStatusPending, true},
		{TaskStatusReady, true},
		{TaskStatusRunning, true},
		{TaskStatusSucceeded, true},
		{TaskStatusFailed, true},
		{TaskStatusSkipped, true},
		{TaskStatus("bogus"), false},
		{TaskStatus(""), false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.expected {
				t.Errorf("Valid(%q) = %v, expected %v", tc.status, got, tc.expected)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusSucceeded, true},
		{TaskStatusFailed, true},
		{TaskStatusSkipped, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Terminal(); got != tc.expected {
				t.Errorf("Terminal(%q) = %v, expected %v", tc.status, got, tc.expected)
			}
		})
	}
}

func TestMessage_Broadcast(t *testing.T) {
	if !(Message{Receiver: BroadcastReceiver}).Broadcast() {
		t.Error("expected * receiver to be a broadcast")
	}
	if (Message{Receiver: "bob"}).Broadcast() {
		t.Error("expected named receiver not to be a broadcast")
	}
}
