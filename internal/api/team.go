package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listTeam(c *gin.Context) {
	members, err := h.teamService.ListMembers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, members)
}

func (h *Handler) getTeamMember(c *gin.Context) {
	member, err := h.teamService.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, member)
}

func (h *Handler) createTeamMember(c *gin.Context) {
	var req teamMemberRequest
	if !bindJSON(c, &req) {
		return
	}

	member := req.toModel()
	if err := h.teamService.CreateMember(c.Request.Context(), member); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, member)
}

func (h *Handler) updateTeamMember(c *gin.Context) {
	var req teamMemberRequest
	if !bindJSON(c, &req) {
		return
	}

	member := req.toModel()
	if err := h.teamService.UpdateMember(c.Request.Context(), c.Param("id"), member); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, member)
}

func (h *Handler) deleteTeamMember(c *gin.Context) {
	if err := h.teamService.DeleteMember(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id")})
}
