package server

import "errors"

// errNoRefreshPath means the deployment has no way to refresh this session:
// no local provider credentials and no relay key.
var errNoRefreshPath = errors.New("no refresh path configured for session")
