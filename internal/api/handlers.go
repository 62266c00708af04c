package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/registry"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

type initRequest struct {
	Sender string           `json:"sender" binding:"required"`
	Msg    contract.InitMsg `json:"msg"`
}

type executeRequest struct {
	Sender string              `json:"sender" binding:"required"`
	Msg    contract.ExecuteMsg `json:"msg"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps domain errors onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrNoMember),
		errors.Is(err, session.ErrNoRound),
		errors.Is(err, contract.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, contract.ErrAlreadyInitialized),
		errors.Is(err, session.ErrInvalidPhase),
		errors.Is(err, session.ErrRoundDone):
		return http.StatusConflict
	case errors.Is(err, contract.ErrInvalidMsg),
		errors.Is(err, session.ErrInvalidThreshold),
		errors.Is(err, session.ErrInvalidDealer),
		errors.Is(err, session.ErrInvalidShare),
		errors.Is(err, session.ErrInvalidComplaint),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, registry.ErrInvalidMember),
		errors.Is(err, vss.ErrInvalidShare),
		errors.Is(err, bls381.ErrInvalidLength),
		errors.Is(err, bls381.ErrInvalidPoint):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), errorResponse{Error: err.Error()})
}

func (s *Service) handleInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	resp, err := s.contract.Instantiate(c.Request.Context(), req.Sender, req.Msg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	resp, err := s.contract.Execute(c.Request.Context(), req.Sender, req.Msg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) query(c *gin.Context, q contract.QueryMsg) {
	out, err := s.contract.Query(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Service) handleConfig(c *gin.Context) {
	s.query(c, contract.QueryMsg{GetConfigInfo: &contract.Empty{}})
}

func (s *Service) handleMembers(c *gin.Context) {
	q := contract.GetMembersQuery{Order: c.Query("order"), IncludeDeleted: c.Query("include_deleted") == "true"}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid " + name})
			return
		}
		*dst = v
	}
	s.query(c, contract.QueryMsg{GetMembers: &q})
}

func (s *Service) handleMember(c *gin.Context) {
	s.query(c, contract.QueryMsg{GetMember: &contract.GetMemberQuery{Address: c.Param("address")}})
}

func (s *Service) handleRound(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid round id"})
		return
	}
	s.query(c, contract.QueryMsg{GetRound: &contract.GetRoundQuery{Round: id}})
}

func (s *Service) handleLatestRound(c *gin.Context) {
	s.query(c, contract.QueryMsg{LatestRound: &contract.Empty{}})
}
