package messaging

import "testing"

func TestStreamSubjectRoundTrip(t *testing.T) {
	ids := []string{"live-2024", "abc", "x_y-z"}
	for _, id := range ids {
		got, ok := StreamIDFromSubject(StreamSubject(id))
		if !ok || got != id {
			t.Errorf("StreamIDFromSubject(StreamSubject(%q)) = %q, %v", id, got, ok)
		}
	}
}

func TestStreamIDFromSubjectRejectsOthers(t *testing.T) {
	subjects := []string{"chat.abc", "stream.", "stream", "streamx.abc"}
	for _, s := range subjects {
		if id, ok := StreamIDFromSubject(s); ok {
			t.Errorf("StreamIDFromSubject(%q) = %q, want rejection", s, id)
		}
	}
}
