package controlplane

import (
	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/history"
	"github.com/openmined/syftsync/internal/sync"
)

const (
	ErrCodeBadRequest     = "ERR_BAD_REQUEST"
	ErrCodeUnauthorized   = "ERR_UNAUTHORIZED"
	ErrCodeSyncRunning    = "ERR_SYNC_RUNNING"
	ErrCodeNoBackends     = "ERR_NO_BACKENDS"
	ErrCodeSyncFailed     = "ERR_SYNC_FAILED"
	ErrCodeNoHistory      = "ERR_HISTORY_UNAVAILABLE"
	ErrCodeUnknownError   = "ERR_UNKNOWN_ERROR"
	ErrCodeNotFound       = "ERR_NOT_FOUND"
	ErrCodeMethodNotAllow = "ERR_METHOD_NOT_ALLOWED"
)

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	_ = c.Error(err)
	c.PureJSON(status, ErrorResponse{Code: code, Error: err.Error()})
}

// SyncRequest is the body of POST /v1/sync. Every field is optional.
type SyncRequest struct {
	DryRun    bool                 `json:"dryRun"`
	Async     bool                 `json:"async"`
	Backends  []string             `json:"backends"`
	Direction config.SyncDirection `json:"direction"`
	Mode      config.SyncMode      `json:"mode"`
}

type SyncResponse struct {
	Result *sync.PassResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type HistoryResponse struct {
	Passes []history.Pass `json:"passes"`
}

// StatusResponse is GET /v1/status: the manager view plus daemon process stats.
type StatusResponse struct {
	sync.ManagerStatus
	Process *ProcessStats `json:"process,omitempty"`
}

type IndexResponse struct {
	App     string `json:"app"`
	Version string `json:"version"`
}
