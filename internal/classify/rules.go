package classify

import (
	"strings"

	"github.com/loykin/procsentry/internal/record"
)

// criticalProcesses must never be terminated: kernel, init/launch services,
// display server, session managers, security daemons. Matching is
// case-insensitive on name and identity.
var criticalProcesses = []string{
	"kernel_task", "launchd", "kextcookied", "usereventagent",
	"systemuiserver", "dock", "finder", "windowserver", "loginwindow",
	"cfprefsd", "distnoted", "coreaudiod", "bluetoothd", "wifiagent",
	"airportd", "networkd", "configd", "mdnsresponder", "syslogd",
	"systemd", "init", "kthreadd", "dbus-daemon", "xorg", "wayland",
	"sshd", "logind",
}

// systemKeywords mark a process as system-owned when combined with a vendor
// namespace prefix.
var systemKeywords = []string{
	"system", "kernel", "security", "audio", "bluetooth", "wifi",
	"network", "login", "window", "spotlight", "notification",
}

var systemPrefixes = []string{"com.apple.", "org.freedesktop.", "io.systemd."}

var systemDirs = []string{
	"/system/", "/usr/libexec/", "/usr/lib/systemd/", "/sbin/",
	"/library/apple/",
}

// developerTools are preserved at Medium rather than Low so a broad sweep
// does not take out the user's working terminal.
var developerTools = []string{
	"terminal", "iterm2", "code", "goland", "vim", "nvim", "emacs",
	"tmux", "zellij",
}

// restartablePatterns describe background processes that are expected to
// come back cleanly after a restart.
var restartablePatterns = []string{"helper", "updater", "agent", "renderer", "worker"}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// IsCritical reports whether the process name or identity matches the fixed
// critical-process set.
func IsCritical(rec record.ProcessRecord) bool {
	name := strings.ToLower(rec.Name)
	ident := strings.ToLower(rec.Identity)
	for _, c := range criticalProcesses {
		if name == c || strings.Contains(ident, c) {
			return true
		}
	}
	return false
}

// IsSystemOwned checks structural markers: vendor namespace prefix combined
// with a system-role keyword, or an executable under a system directory.
func IsSystemOwned(rec record.ProcessRecord) bool {
	ident := strings.ToLower(rec.Identity)
	if hasAnyPrefix(ident, systemPrefixes) && containsAny(ident, systemKeywords) {
		return true
	}
	path := strings.ToLower(rec.ExecPath)
	return path != "" && containsAny(path, systemDirs)
}

// IsDeveloperTool matches the recognized developer-tool identities.
func IsDeveloperTool(rec record.ProcessRecord) bool {
	name := strings.ToLower(rec.Name)
	for _, d := range developerTools {
		if name == d || strings.Contains(name, d) {
			return true
		}
	}
	return false
}

// MatchesRestartablePattern checks the known-safe-to-restart naming forms.
func MatchesRestartablePattern(rec record.ProcessRecord) bool {
	name := strings.ToLower(rec.Name)
	return containsAny(name, restartablePatterns)
}

// securitySoftware identities block termination in the safety gate.
var securitySoftware = []string{
	"antivirus", "defender", "crowdstrike", "falcon", "sentinelone",
	"xprotect", "gatekeeper", "securityd", "trustd",
}

// IsSecuritySoftware reports whether the process looks like endpoint
// security tooling.
func IsSecuritySoftware(rec record.ProcessRecord) bool {
	name := strings.ToLower(rec.Name)
	ident := strings.ToLower(rec.Identity)
	return containsAny(name, securitySoftware) || containsAny(ident, securitySoftware)
}
