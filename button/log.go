package button

import log "github.com/sirupsen/logrus"

var logger = log.WithField("component", "button")
