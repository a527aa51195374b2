package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener launches the system browser for authorization URLs.
type BrowserOpener struct{}

func NewBrowserOpener() *BrowserOpener { return &BrowserOpener{} }

func (BrowserOpener) OpenURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
