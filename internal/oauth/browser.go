package oauth

import (
	"github.com/skratchdot/open-golang/open"
)

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	return open.Run(url)
}
