package platform

import "testing"

func TestCalendarLabel(t *testing.T) {
	tests := []struct {
		p    Platform
		want string
	}{
		{Mac, "Apple Calendar"},
		{Windows, "Outlook/Calendar"},
		{IOS, "iPhone/iPad Calendar"},
		{Android, "Android Calendar"},
		{Linux, "Calendar"},
		{Unknown, "Calendar"},
	}
	for _, tt := range tests {
		if got := tt.p.CalendarLabel(); got != tt.want {
			t.Errorf("%s.CalendarLabel() = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	// Whatever the host, Detect must return one of the named platforms.
	switch Detect() {
	case Mac, Windows, Linux, IOS, Android, Unknown:
	default:
		t.Errorf("Detect() returned unnamed platform %q", Detect())
	}
}
