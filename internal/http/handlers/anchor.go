package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/anchor"
)

type AnchorService interface {
	RequestAnchor(ctx context.Context, farmerID string) (*anchor.Record, error)
	GetAnchorStatus(ctx context.Context, farmerID string) (*anchor.Status, error)
	History(ctx context.Context, farmerID string, limit int32) ([]anchor.HistoryEntry, error)
}

type AnchorHandler struct {
	service AnchorService
}

func NewAnchorHandler(service AnchorService) *AnchorHandler {
	return &AnchorHandler{service: service}
}

type anchorErrorView struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type anchorRecordView struct {
	ID            string           `json:"id"`
	Hash          string           `json:"hash"`
	FarmerID      string           `json:"farmer_id"`
	Revision      int64            `json:"revision"`
	State         anchor.State     `json:"state"`
	TxRef         string           `json:"tx_ref,omitempty"`
	ChainID       string           `json:"chain_id"`
	RetryCount    int32            `json:"retry_count"`
	Confirmations int64            `json:"confirmations"`
	VerifiedAt    *time.Time       `json:"verified_at,omitempty"`
	Error         *anchorErrorView `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type transitionView struct {
	Version   int64        `json:"version"`
	From      anchor.State `json:"from"`
	To        anchor.State `json:"to"`
	TxRef     string       `json:"tx_ref,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	At        time.Time    `json:"at"`
}

func recordView(rec *anchor.Record) anchorRecordView {
	out := anchorRecordView{
		ID:            rec.ID,
		Hash:          canonical.HashHex(rec.ProfileHash),
		FarmerID:      rec.FarmerID,
		Revision:      rec.ProfileRevision,
		State:         rec.State,
		TxRef:         rec.TxRef,
		ChainID:       rec.ChainID,
		RetryCount:    rec.RetryCount,
		Confirmations: rec.Confirmations,
		VerifiedAt:    rec.VerifiedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.ErrorKind != "" {
		out.Error = &anchorErrorView{Kind: string(rec.ErrorKind), Reason: rec.LastError}
	}
	return out
}

func (h *AnchorHandler) RequestAnchor(c *gin.Context) {
	rec, err := h.service.RequestAnchor(c.Request.Context(), c.Param("farmerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !rec.State.IsTerminal() {
		status = http.StatusAccepted
	}
	c.JSON(status, recordView(rec))
}

func (h *AnchorHandler) GetAnchorStatus(c *gin.Context) {
	st, err := h.service.GetAnchorStatus(c.Request.Context(), c.Param("farmerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AnchorHandler) History(c *gin.Context) {
	limit, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("limit", "50")), 10, 32)
	entries, err := h.service.History(c.Request.Context(), c.Param("farmerId"), int32(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]gin.H, 0, len(entries))
	for i := range entries {
		transitions := make([]transitionView, 0, len(entries[i].Transitions))
		for _, t := range entries[i].Transitions {
			transitions = append(transitions, transitionView{
				Version:   t.Version,
				From:      t.FromState,
				To:        t.ToState,
				TxRef:     t.TxRef,
				LastError: t.LastError,
				At:        t.At,
			})
		}
		items = append(items, gin.H{
			"record":      recordView(&entries[i].Record),
			"transitions": transitions,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
