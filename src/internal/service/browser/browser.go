package browser

import (
	"os"
	"sync"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
)

type OpenFunc func(url string) error

type Opener struct {
	open   OpenFunc
	logger logrus.FieldLogger
}

var quietOnce sync.Once

// quiet points the launcher's output at the null device. It has to be an
// *os.File: any other writer makes exec copy through pipes and wait for
// every process holding them, including the browser xdg-open leaves behind.
func quiet() {
	quietOnce.Do(func() {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		browser.Stdout = devNull
		browser.Stderr = devNull
	})
}

// New returns an Opener backed by the platform's default browser launcher.
func New(logger logrus.FieldLogger) *Opener {
	quiet()
	return &Opener{open: browser.OpenURL, logger: logger}
}

func NewWithFunc(open OpenFunc, logger logrus.FieldLogger) *Opener {
	return &Opener{open: open, logger: logger}
}

// Open tries to show url in a browser tab. Failure is logged and otherwise
// ignored; it reports whether the launcher succeeded.
func (o *Opener) Open(url string) bool {
	if err := o.open(url); err != nil {
		o.logger.WithError(err).WithField("url", url).Debug("Could not open browser")
		return false
	}
	return true
}
