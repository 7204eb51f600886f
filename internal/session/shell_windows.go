//go:build windows

package session

func defaultShell() string {
	return "powershell.exe"
}
