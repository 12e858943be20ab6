package audit

import "errors"

var errNoDatabase = errors.New("audit: no database configured")
