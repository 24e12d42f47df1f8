package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MetaHandler struct {
	env     string
	version string
	chainID string
}

func NewMetaHandler(env, version, chainID string) *MetaHandler {
	return &MetaHandler{env: env, version: version, chainID: chainID}
}

// GetMeta lets clients check which ledger their anchors are verified against.
func (h *MetaHandler) GetMeta(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "AgriMRV Credit Backend",
		"version":  h.version,
		"env":      h.env,
		"chain_id": h.chainID,
	})
}
