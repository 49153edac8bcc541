package controllers

import (
	"lifeline/models"
	"lifeline/services"
	"lifeline/utils"
	"lifeline/workers"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type EmergencyController struct {
	lifecycleService  *services.LifecycleService
	dispatcherService *services.DispatcherService
	escalationService *services.EscalationService
	deliveryWorker    *workers.DeliveryWorker
}

func NewEmergencyController(
	lifecycleService *services.LifecycleService,
	dispatcherService *services.DispatcherService,
	escalationService *services.EscalationService,
	deliveryWorker *workers.DeliveryWorker,
) *EmergencyController {
	return &EmergencyController{
		lifecycleService:  lifecycleService,
		dispatcherService: dispatcherService,
		escalationService: escalationService,
		deliveryWorker:    deliveryWorker,
	}
}

// =================== LIFECYCLE ===================

// TriggerEmergency starts a new emergency with its cancellation countdown.
func (ec *EmergencyController) TriggerEmergency(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	var req models.TriggerEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BindingErrorResponse(c, err)
		return
	}

	emergency, err := ec.lifecycleService.Trigger(c.Request.Context(), userID, &req)
	if err != nil {
		logrus.Errorf("Trigger emergency failed: %v", err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, "Emergency triggered successfully", emergency)
}

// TriggerFromDevice starts an emergency from an automatic device trigger.
func (ec *EmergencyController) TriggerFromDevice(c *gin.Context) {
	var req models.DeviceTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BindingErrorResponse(c, err)
		return
	}

	emergency, err := ec.lifecycleService.TriggerFromDevice(c.Request.Context(), &req)
	if err != nil {
		logrus.Errorf("Device trigger failed: %v", err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, "Emergency triggered successfully", emergency)
}

// CancelEmergency cancels a pending or active emergency.
func (ec *EmergencyController) CancelEmergency(c *gin.Context) {
	emergencyID := c.Param("emergencyId")

	var req models.CancelEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BindingErrorResponse(c, err)
		return
	}

	emergency, err := ec.lifecycleService.Cancel(c.Request.Context(), emergencyID, req.Reason)
	if err != nil {
		logrus.Errorf("Cancel emergency %s failed: %v", emergencyID, err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency cancelled successfully", emergency)
}

// ResolveEmergency closes an active emergency.
func (ec *EmergencyController) ResolveEmergency(c *gin.Context) {
	emergencyID := c.Param("emergencyId")

	var req models.ResolveEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BindingErrorResponse(c, err)
		return
	}

	emergency, err := ec.lifecycleService.Resolve(c.Request.Context(), emergencyID, req.Notes)
	if err != nil {
		logrus.Errorf("Resolve emergency %s failed: %v", emergencyID, err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency resolved successfully", emergency)
}

// AcknowledgeEmergency records a responder acknowledgment.
func (ec *EmergencyController) AcknowledgeEmergency(c *gin.Context) {
	emergencyID := c.Param("emergencyId")

	var req models.AcknowledgeEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BindingErrorResponse(c, err)
		return
	}

	ack, err := ec.lifecycleService.Acknowledge(c.Request.Context(), emergencyID, &req)
	if err != nil {
		logrus.Errorf("Acknowledge emergency %s failed: %v", emergencyID, err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, "Emergency acknowledged successfully", ack)
}

// GetEmergency returns one emergency with its acknowledgments.
func (ec *EmergencyController) GetEmergency(c *gin.Context) {
	emergencyID := c.Param("emergencyId")

	detail, err := ec.lifecycleService.GetEmergency(c.Request.Context(), emergencyID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency retrieved successfully", detail)
}

// GetEmergencyHistory returns the caller's paginated emergency history.
func (ec *EmergencyController) GetEmergencyHistory(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	filters := models.EmergencyHistoryFilters{
		UserID:   userID,
		Status:   models.EmergencyStatus(c.Query("status")),
		Type:     models.EmergencyType(c.Query("type")),
		Page:     page,
		PageSize: pageSize,
	}

	emergencies, total, err := ec.lifecycleService.History(c.Request.Context(), filters)
	if err != nil {
		logrus.Errorf("Get emergency history failed: %v", err)
		utils.ServiceErrorResponse(c, err)
		return
	}

	meta := utils.CreatePaginationMeta(filters.Page, filters.PageSize, total)
	utils.SuccessResponseWithMeta(c, "Emergency history retrieved successfully", emergencies, meta)
}

// =================== DELIVERY VISIBILITY ===================

// GetBatchStatus returns the counters of one notification batch.
func (ec *EmergencyController) GetBatchStatus(c *gin.Context) {
	batchID := c.Param("batchId")

	status, err := ec.dispatcherService.GetBatchStatus(c.Request.Context(), batchID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Batch status retrieved successfully", status)
}

// GetEscalationStatus reports whether escalation is scheduled or looping for
// an emergency.
func (ec *EmergencyController) GetEscalationStatus(c *gin.Context) {
	emergencyID := c.Param("emergencyId")
	status := ec.escalationService.Status(emergencyID)
	utils.SuccessResponse(c, "Escalation status retrieved successfully", status)
}

// GetWorkerStats exposes delivery worker metrics.
func (ec *EmergencyController) GetWorkerStats(c *gin.Context) {
	utils.SuccessResponse(c, "Worker stats retrieved successfully", ec.deliveryWorker.GetStats())
}
