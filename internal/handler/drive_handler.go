package handler

import (
	"net/http"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// DriveHandler 结构体定义了 Drive 知识库相关的处理器。
type DriveHandler struct {
	syncService service.SyncService
	repo        repository.DriveFileRepository
	minioCfg    config.MinIOConfig
}

// NewDriveHandler 创建一个新的 DriveHandler 实例。
func NewDriveHandler(syncService service.SyncService, repo repository.DriveFileRepository, minioCfg config.MinIOConfig) *DriveHandler {
	return &DriveHandler{
		syncService: syncService,
		repo:        repo,
		minioCfg:    minioCfg,
	}
}

// Status 返回 Drive 知识库的连接状态、文件清单与最近一次同步摘要。
func (h *DriveHandler) Status(c *gin.Context) {
	status, err := h.syncService.Status(c.Request.Context())
	if err != nil {
		log.Errorf("[DriveHandler] 查询同步状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询状态失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": status})
}

// SyncNow 触发一次后台对账，立即返回 202。
func (h *DriveHandler) SyncNow(c *gin.Context) {
	log.Info("[DriveHandler] 收到手动同步请求")
	h.syncService.TriggerSync()
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "同步已触发", "data": gin.H{"isSyncing": true}})
}

// Download 为已归档的 Drive 文件签发临时下载链接。
func (h *DriveHandler) Download(c *gin.Context) {
	fileID := c.Param("fileId")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少文件ID", "data": nil})
		return
	}

	file, err := h.repo.FindByID(fileID)
	if err != nil {
		log.Warnf("[DriveHandler] 文件不存在, fileId: %s", fileID)
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文件不存在", "data": nil})
		return
	}

	url, err := storage.GetPresignedURL(h.minioCfg.BucketName, storage.DriveObjectName(fileID), 15*time.Minute)
	if err != nil {
		log.Errorf("[DriveHandler] 生成下载链接失败, fileId: %s, error: %v", fileID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成下载链接失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"file_id":   file.FileID,
		"file_name": file.FileName,
		"url":       url,
	}})
}
