// Package platform maps the running OS to the calendar application a saved
// alarm file will land in, for friendlier CLI hints.
package platform

import "runtime"

// Platform identifies the host platform family.
type Platform string

const (
	Mac     Platform = "Mac"
	Windows Platform = "Windows"
	Linux   Platform = "Linux"
	IOS     Platform = "iOS"
	Android Platform = "Android"
	Unknown Platform = "Unknown"
)

// Detect reports the current platform from runtime.GOOS.
func Detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return Mac
	case "windows":
		return Windows
	case "linux":
		return Linux
	case "ios":
		return IOS
	case "android":
		return Android
	default:
		return Unknown
	}
}

// CalendarLabel names the calendar app an .ics file opens in on p.
func (p Platform) CalendarLabel() string {
	switch p {
	case IOS:
		return "iPhone/iPad Calendar"
	case Android:
		return "Android Calendar"
	case Windows:
		return "Outlook/Calendar"
	case Mac:
		return "Apple Calendar"
	default:
		return "Calendar"
	}
}
