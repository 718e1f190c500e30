package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/pkg/db/pagination"
)

type addMemberRequest struct {
	Username string `json:"username"`
	RoleCode string `json:"role_code"`
	Invite   bool   `json:"invite"`
}

type updateMemberRoleRequest struct {
	RoleCode string `json:"role_code"`
}

type listMembersQuery struct {
	Page           int    `form:"page,default=1"`
	PageSize       int    `form:"page_size"`
	IncludeActive  string `form:"include_active"`
	IncludePending string `form:"include_pending"`
	IncludeRemoved string `form:"include_removed"`
}

func (s *Server) AddMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.membershipSvc.AddMember(c.Request.Context(), s.externalID(c), c.Param("id"), membershipdomain.AddMemberRequest{
		Username: strings.TrimSpace(req.Username),
		RoleCode: strings.TrimSpace(req.RoleCode),
		Invite:   req.Invite,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp.UserID != "" {
		c.Header("Location", fmt.Sprintf("/v1/organizations/%s/members/%s", c.Param("id"), resp.UserID))
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	resp, err := s.membershipSvc.AcceptInvitation(c.Request.Context(), s.externalID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.membershipSvc.UpdateRole(c.Request.Context(), s.externalID(c), c.Param("id"), c.Param("userId"), membershipdomain.UpdateRoleRequest{
		RoleCode: strings.TrimSpace(req.RoleCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) LeaveOrganization(c *gin.Context) {
	if err := s.membershipSvc.Leave(c.Request.Context(), s.externalID(c), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveMember(c *gin.Context) {
	if err := s.membershipSvc.Remove(c.Request.Context(), s.externalID(c), c.Param("id"), c.Param("userId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListMembers(c *gin.Context) {
	var query listMembersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	includeActive, err := parseOptionalBool(query.IncludeActive)
	if err != nil {
		AbortWithError(c, newValidationError("include_active", "invalid_include_active", "invalid boolean"))
		return
	}
	includePending, err := parseOptionalBool(query.IncludePending)
	if err != nil {
		AbortWithError(c, newValidationError("include_pending", "invalid_include_pending", "invalid boolean"))
		return
	}
	includeRemoved, err := parseOptionalBool(query.IncludeRemoved)
	if err != nil {
		AbortWithError(c, newValidationError("include_removed", "invalid_include_removed", "invalid boolean"))
		return
	}

	resp, err := s.membershipSvc.List(c.Request.Context(), s.externalID(c), c.Param("id"), membershipdomain.ListMembersRequest{
		Page: pagination.Page{
			Page:     query.Page,
			PageSize: query.PageSize,
		},
		IncludeActive:  includeActive,
		IncludePending: includePending,
		IncludeRemoved: includeRemoved,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
